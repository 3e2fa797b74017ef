package amg88xx

// InterruptMode selects how pixel values are compared against the
// configured levels.
type InterruptMode uint8

const (
	// InterruptDifference triggers on the change relative to the value at
	// the moment the interrupt was armed.
	InterruptDifference InterruptMode = 0x00
	// InterruptAbsolute triggers on the absolute pixel value.
	InterruptAbsolute InterruptMode = 0x01
)

// FrameRate selects the sensor's internal refresh rate.
type FrameRate uint8

const (
	FPS10 FrameRate = 0x00
	FPS1  FrameRate = 0x01
)

// Status holds the flags of the STAT register.
type Status uint8

const (
	// StatusInterrupt is set when any pixel has crossed its threshold.
	StatusInterrupt Status = 0x02
	// StatusPixelOverflow is set when a pixel exceeded the measurable range.
	StatusPixelOverflow Status = 0x04
	// StatusThermistorOverflow is set when the thermistor exceeded its range.
	StatusThermistorOverflow Status = 0x08
)

const (
	// DefaultAddr is the I2C address with the AD_SELECT pin pulled high.
	// Pulling it low selects 0x68 instead.
	DefaultAddr uint16 = 0x69

	// PixelCount is the number of pixels in one frame (8x8).
	PixelCount = 64
)

// Degrees Celsius per LSB
const (
	pixelTempConversion  float64 = 0.25
	thermistorConversion float64 = 0.0625
)

// Register map
const (
	pctlReg  uint8 = 0x00
	rstReg   uint8 = 0x01
	fpscReg  uint8 = 0x02
	intcReg  uint8 = 0x03
	statReg  uint8 = 0x04
	sclrReg  uint8 = 0x05
	aveReg   uint8 = 0x07
	inthlReg uint8 = 0x08
	inthhReg uint8 = 0x09
	intllReg uint8 = 0x0A
	intlhReg uint8 = 0x0B
	ihyslReg uint8 = 0x0C
	ihyshReg uint8 = 0x0D
	tthlReg  uint8 = 0x0E
	tthhReg  uint8 = 0x0F
	intReg   uint8 = 0x10 // 8 bytes, one bit per pixel
	pixelReg uint8 = 0x80 // 128 bytes, 2 per pixel
)

// PCTL power modes
const (
	normalMode uint8 = 0x00
	sleepMode  uint8 = 0x10
	standby60s uint8 = 0x20
	standby10s uint8 = 0x21
)

// RST commands
const (
	initialReset uint8 = 0x3F
	flagReset    uint8 = 0x30
)

// Bit positions within INTC and AVE
const (
	intcEnableBit uint8 = 0
	intcModeBit   uint8 = 1
	aveMamodBit   uint8 = 5
)
