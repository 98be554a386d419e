//go:build rp2350

package main

import (
	"errors"
	"machine"

	"github.com/adamgreen/SDCard/sd"
)

// The piolib SPI program is assembled for the RP2040 PIO. Until an RP2350
// build of it is wired up, the SD pins must map onto a hardware SPI mux on
// this target.
func newPIOBus(sck, sdo, sdi, cs machine.Pin, freqHz uint32) (sd.Bus, error) {
	return nil, errors.New("PIO SPI bus not available on this target; use hardware SPI pins")
}
