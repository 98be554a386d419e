//go:build rp2040

package main

import (
	"machine"

	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"

	"github.com/adamgreen/SDCard/sd"
)

// newPIOBus builds the SD bus on a PIO state machine, for pin layouts the
// hardware SPI muxes cannot reach. The PIO program runs at a fixed clock,
// so the whole session uses freqHz; pick a rate the card accepts in idle
// state when initializing through this bus.
func newPIOBus(sck, sdo, sdi, cs machine.Pin, freqHz uint32) (sd.Bus, error) {
	sm := pio.PIO0.StateMachine(0)
	spi, err := piolib.NewSPI(sm, machine.SPIConfig{
		Frequency: freqHz,
		SCK:       sck,
		SDO:       sdo,
		SDI:       sdi,
		Mode:      0,
	})
	if err != nil {
		return nil, err
	}

	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	cs.High()

	return sd.NewSPIBus(spi, cs.Set, nil), nil
}
