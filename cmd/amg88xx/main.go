package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/mikesmitty/amg88xx"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

func main() {
	bus := flag.String("bus", "", "Name of the bus")
	addr := flag.Uint("addr", uint(amg88xx.DefaultAddr), "I2C address of the sensor")
	interval := flag.Duration("interval", time.Second, "Time between frames")
	flag.Parse()

	_, err := host.Init()
	if err != nil {
		log.Fatal(err)
	}

	b, err := i2creg.Open(*bus)
	if err != nil {
		log.Fatal(err)
	}
	defer b.Close()

	opts := amg88xx.DefaultOpts()
	opts.Addr = uint16(*addr)

	dev, err := amg88xx.New(b, opts)
	if err != nil {
		log.Fatal(err)
	}

	pix := make([]float64, amg88xx.PixelCount)
	ticker := time.NewTicker(*interval)

	for {
		therm, err := dev.ReadThermistor()
		if err != nil {
			log.Print(err)
		}
		log.Printf("Thermistor: %.2f C", therm)

		if err := dev.ReadPixels(pix); err != nil {
			log.Print(err)
		}
		for row := 0; row < 8; row++ {
			line := ""
			for col := 0; col < 8; col++ {
				line += fmt.Sprintf("%7.2f", pix[row*8+col])
			}
			log.Print(line)
		}

		<-ticker.C
	}
}
