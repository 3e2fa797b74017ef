package amg88xx

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Opts holds various configuration options for the sensor
type Opts struct {
	// Addr is the device's I2C address. The zero value selects DefaultAddr
	// (0x69); boards strapping AD_SELECT low use 0x68.
	Addr uint16
	// FrameRate selects 10 frames per second (default) or 1 frame per
	// second with reduced noise.
	FrameRate FrameRate
	// MovingAverage enables the twice moving average output mode.
	MovingAverage bool
}

func DefaultOpts() *Opts {
	return &Opts{
		Addr:      DefaultAddr,
		FrameRate: FPS10,
	}
}

// New initializes an AMG88xx on the given bus: normal power mode, software
// reset, interrupts disabled, frame rate set, followed by a 100ms settling
// delay before the first frame is valid.
func New(b i2c.Bus, opts *Opts) (*Dev, error) {
	if b == nil {
		return nil, errors.New("amg88xx: no bus provided")
	}

	if opts == nil {
		opts = DefaultOpts()
	}

	addr := opts.Addr
	if addr == 0 {
		addr = DefaultAddr
	}

	switch opts.FrameRate {
	case FPS10, FPS1:
	default:
		return nil, fmt.Errorf("amg88xx: invalid frame rate: %#02x", uint8(opts.FrameRate))
	}

	c := &i2c.Dev{Bus: b, Addr: addr}
	d := &Dev{
		d:    c,
		opts: *opts,
		name: c.String(),
	}

	// Buses advertising conn.Limits cap how many bytes one transaction may
	// move; bulk register reads are split accordingly. Zero means unbounded.
	if limits, ok := b.(conn.Limits); ok {
		d.maxTxSize = limits.MaxTxSize()
	}

	// Enter normal mode
	d.pctl = normalMode
	if err := d.writeReg(pctlReg, d.pctl); err != nil {
		return nil, d.wrap(err)
	}

	// Software reset
	d.rst = initialReset
	if err := d.writeReg(rstReg, d.rst); err != nil {
		return nil, d.wrap(err)
	}

	// Interrupts stay off until the application asks for them
	if err := d.DisableInterrupt(); err != nil {
		return nil, err
	}

	d.fpsc = uint8(opts.FrameRate)
	if err := d.writeReg(fpscReg, d.fpsc); err != nil {
		return nil, d.wrap(err)
	}

	// Let the device settle before the first frame is read
	time.Sleep(settleTime)

	if opts.MovingAverage {
		if err := d.SetMovingAverageMode(true); err != nil {
			return nil, err
		}
	}

	return d, nil
}

const settleTime = 100 * time.Millisecond

type Dev struct {
	d         conn.Conn
	opts      Opts
	name      string
	maxTxSize int

	// Shadow copies of the control registers. The device is treated as
	// write-only for these, so bitfield updates are read-modify-write
	// against the shadows, never against the wire.
	pctl  uint8
	rst   uint8
	fpsc  uint8
	intc  uint8
	ave   uint8
	inthl uint8
	inthh uint8
	intll uint8
	intlh uint8
	ihysl uint8
	ihysh uint8

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s{%s}", d.name, d.d)
}

// Sense reads the on-die reference thermistor.
func (d *Dev) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errors.New("already sensing continuously"))
	}

	return d.sense(e)
}

// SenseContinuous returns thermistor measurements on a continuous basis.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel.
//
// It's the responsibility of the caller to retrieve the values from the
// channel as fast as possible, otherwise the interval may not be respected.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		// Don't send the stop command to the device.
		close(d.stop)
		d.stop = nil
		d.wg.Wait()
	}

	sensing := make(chan physic.Env)
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(sensing)
		d.sensingContinuous(interval, sensing, d.stop)
	}()
	return sensing, nil
}

// Thermistor resolution is 0.0625°C per LSB
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 16
}

// Halt stops the AMG88xx from acquiring measurements as initiated by
// SenseContinuous().
//
// It is recommended to call this function before terminating the process to
// reduce idle power usage and a goroutine leak.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == nil {
		return nil
	}
	close(d.stop)
	d.stop = nil
	d.wg.Wait()

	return nil
}

func (d *Dev) sense(e *physic.Env) error {
	temp, err := d.ReadThermistor()
	if err != nil {
		return err
	}
	e.Temperature = physic.Temperature(temp*1000)*physic.MilliCelsius + physic.ZeroCelsius
	return nil
}

func (d *Dev) sensingContinuous(interval time.Duration, sensing chan<- physic.Env, stop <-chan struct{}) {
	// The device refreshes at 10Hz or 1Hz; polling faster only returns the
	// same frame again.
	framePeriod := 100 * time.Millisecond
	if FrameRate(d.fpsc) == FPS1 {
		framePeriod = time.Second
	}
	if interval < framePeriod {
		interval = framePeriod
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	var err error
	for {
		// Do one initial sensing right away.
		e := physic.Env{}
		d.mu.Lock()
		err = d.sense(&e)
		d.mu.Unlock()
		if err != nil {
			return
		}
		select {
		case sensing <- e:
		case <-stop:
			return
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// ReadThermistor returns the temperature of the on-die reference thermistor
// in degrees Celsius.
func (d *Dev) ReadThermistor() (float64, error) {
	var raw [2]byte
	if err := d.readReg(tthlReg, raw[:]); err != nil {
		return 0, d.wrap(err)
	}

	w := uint16(raw[1])<<8 | uint16(raw[0])
	return signedMag12ToFloat(w) * thermistorConversion, nil
}

// ReadPixels fills pix with temperatures in degrees Celsius, one per pixel
// in the device's raster order. A slice longer than PixelCount reads
// PixelCount pixels; an empty slice performs no bus traffic.
func (d *Dev) ReadPixels(pix []float64) error {
	n := len(pix)
	if n > PixelCount {
		n = PixelCount
	}
	if n == 0 {
		return nil
	}

	raw := make([]byte, 2*n)
	if err := d.readReg(pixelReg, raw); err != nil {
		return d.wrap(err)
	}

	for i := 0; i < n; i++ {
		w := uint16(raw[2*i+1])<<8 | uint16(raw[2*i])
		pix[i] = int12ToFloat(w) * pixelTempConversion
	}
	return nil
}

// SetMovingAverageMode enables or disables the twice moving average output
// mode.
func (d *Dev) SetMovingAverageMode(on bool) error {
	d.ave = setBit(d.ave, aveMamodBit, on)
	if err := d.writeReg(aveReg, d.ave); err != nil {
		return d.wrap(err)
	}
	return nil
}

// SetFrameRate switches the device between 10 frames per second and 1 frame
// per second.
func (d *Dev) SetFrameRate(fps FrameRate) error {
	switch fps {
	case FPS10, FPS1:
	default:
		return d.wrap(fmt.Errorf("invalid frame rate: %#02x", uint8(fps)))
	}

	d.fpsc = uint8(fps)
	if err := d.writeReg(fpscReg, d.fpsc); err != nil {
		return d.wrap(err)
	}
	return nil
}

// SetInterruptLevels sets the upper and lower trigger levels in degrees
// Celsius. The hysteresis level defaults to high * 0.95.
func (d *Dev) SetInterruptLevels(high, low float64) error {
	return d.SetInterruptLevelsHysteresis(high, low, high*0.95)
}

// SetInterruptLevelsHysteresis sets the upper and lower trigger levels and
// the hysteresis level in degrees Celsius. Levels outside the writable range
// are clamped, not rejected.
func (d *Dev) SetInterruptLevelsHysteresis(high, low, hysteresis float64) error {
	highRaw := levelToRaw(high)
	d.inthl = uint8(highRaw)
	d.inthh = uint8(highRaw>>8) & 0x0F
	if err := d.writeReg(inthlReg, d.inthl); err != nil {
		return d.wrap(err)
	}
	if err := d.writeReg(inthhReg, d.inthh); err != nil {
		return d.wrap(err)
	}

	lowRaw := levelToRaw(low)
	d.intll = uint8(lowRaw)
	d.intlh = uint8(lowRaw>>8) & 0x0F
	if err := d.writeReg(intllReg, d.intll); err != nil {
		return d.wrap(err)
	}
	if err := d.writeReg(intlhReg, d.intlh); err != nil {
		return d.wrap(err)
	}

	hysRaw := levelToRaw(hysteresis)
	d.ihysl = uint8(hysRaw)
	d.ihysh = uint8(hysRaw>>8) & 0x0F
	if err := d.writeReg(ihyslReg, d.ihysl); err != nil {
		return d.wrap(err)
	}
	if err := d.writeReg(ihyshReg, d.ihysh); err != nil {
		return d.wrap(err)
	}
	return nil
}

// EnableInterrupt enables the interrupt pin on the device.
func (d *Dev) EnableInterrupt() error {
	return d.setIntcBit(intcEnableBit, true)
}

// DisableInterrupt disables the interrupt pin on the device.
func (d *Dev) DisableInterrupt() error {
	return d.setIntcBit(intcEnableBit, false)
}

// SetInterruptMode sets the interrupt to either absolute value or difference
// mode.
func (d *Dev) SetInterruptMode(mode InterruptMode) error {
	switch mode {
	case InterruptDifference, InterruptAbsolute:
	default:
		return d.wrap(fmt.Errorf("invalid interrupt mode: %#02x", uint8(mode)))
	}

	return d.setIntcBit(intcModeBit, mode == InterruptAbsolute)
}

// InterruptFlags reads the triggered-interrupt register into buf, one bit
// per pixel, row-major. The register is 8 bytes long; longer buffers read 8
// bytes.
func (d *Dev) InterruptFlags(buf []byte) error {
	if len(buf) > 8 {
		buf = buf[:8]
	}
	if len(buf) == 0 {
		return nil
	}

	if err := d.readReg(intReg, buf); err != nil {
		return d.wrap(err)
	}
	return nil
}

// ClearInterrupt clears any triggered interrupts.
func (d *Dev) ClearInterrupt() error {
	d.rst = flagReset
	if err := d.writeReg(rstReg, d.rst); err != nil {
		return d.wrap(err)
	}
	return nil
}

// Status reads the overflow and interrupt-outbreak flags.
func (d *Dev) Status() (Status, error) {
	var b [1]byte
	if err := d.readReg(statReg, b[:]); err != nil {
		return 0, d.wrap(err)
	}
	return Status(b[0]), nil
}

// ClearStatus clears the given status flags.
func (d *Dev) ClearStatus(flags Status) error {
	if err := d.writeReg(sclrReg, uint8(flags)); err != nil {
		return d.wrap(err)
	}
	return nil
}

func (d *Dev) setIntcBit(bit uint8, on bool) error {
	d.intc = setBit(d.intc, bit, on)
	if err := d.writeReg(intcReg, d.intc); err != nil {
		return d.wrap(err)
	}
	return nil
}

// writeReg writes a single control register. Register writes always fit in
// one transaction: the register address plus one byte of payload.
func (d *Dev) writeReg(reg, value uint8) error {
	return d.d.Tx([]byte{reg, value}, nil)
}

// readReg reads len(buf) bytes starting at reg. The pixel and interrupt
// regions occupy consecutive addresses, so a read larger than the bus's
// per-transaction limit is split into limit-sized bursts, advancing the
// start register by the bytes already read.
func (d *Dev) readReg(reg uint8, buf []byte) error {
	num := len(buf)
	if num == 0 {
		return nil
	}

	chunk := d.maxTxSize
	if chunk <= 0 || chunk > num {
		// Fits in a single transaction
		return d.d.Tx([]byte{reg}, buf)
	}

	for pos := 0; pos < num; pos += chunk {
		end := pos + chunk
		if end > num {
			end = num
		}
		if err := d.d.Tx([]byte{reg + uint8(pos)}, buf[pos:end]); err != nil {
			return err
		}
	}
	return nil
}

// levelToRaw converts a level in degrees Celsius to the device's LSB scale,
// truncating toward zero and clamping to the writable range.
func levelToRaw(level float64) int {
	raw := int(level / pixelTempConversion)
	if raw > 4095 {
		raw = 4095
	}
	if raw < -4095 {
		raw = -4095
	}
	return raw
}

func setBit(b, bit uint8, on bool) uint8 {
	if on {
		return b | (1 << bit)
	}
	return b &^ (1 << bit)
}

// signedMag12ToFloat decodes the thermistor's 12-bit sign-magnitude word:
// bit 11 is the sign, bits 10..0 the magnitude.
func signedMag12ToFloat(w uint16) float64 {
	f := float64(w & 0x7FF)
	if w&0x800 != 0 {
		return -f
	}
	return f
}

// int12ToFloat sign-extends a 12-bit two's-complement word. The upper four
// bits of w are ignored.
func int12ToFloat(w uint16) float64 {
	return float64(int16(w<<4) >> 4)
}

func (d *Dev) wrap(err error) error {
	return fmt.Errorf("%s: %v", strings.ToLower(d.name), err)
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
