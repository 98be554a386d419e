package sd

// Bus is the serial transport the driver owns exclusively for its lifetime.
// *spidma.SPIDma satisfies it directly; NewSPIBus adapts a plain full-duplex
// SPI implementation for targets without the DMA exchange engine.
//
// Chip select levels are electrical: true is high (deasserted for the
// active-low SD card), false is low (asserted).
type Bus interface {
	// SetChipSelect drives the chip select line, draining any outstanding
	// transfers first.
	SetChipSelect(level bool)

	// SetFrequency reprograms the serial clock.
	SetFrequency(hz uint32)

	// Send writes one byte without blocking on the received counterpart.
	Send(b byte)

	// Exchange writes one byte and blocks for the byte clocked back in.
	Exchange(b byte) byte

	// Transfer performs a bulk exchange of max(len(w), len(r)) bytes. A
	// single byte w is repeated for every beat; r of length 0 or 1 discards
	// all but (at most) the final received byte.
	Transfer(w, r []byte) error
}
