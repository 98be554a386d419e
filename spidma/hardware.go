package spidma

// Hardware is the register-level view of an SPI peripheral and the pair of
// DMA channels the exchange engine drives. Implementations exist per target;
// the engine itself is portable so the transfer policies can be tested off
// hardware.
//
// The peripheral is assumed to be an 8-bit, FIFO-backed synchronous serial
// port (PL022 SSP or equivalent) with a receive FIFO of FifoDepth elements.
type Hardware interface {
	// SetChipSelect drives the chip select line. True is the electrical
	// high (deasserted) level for an active-low device.
	SetChipSelect(level bool)

	// SetFrequency reprograms the serial clock.
	SetFrequency(hz uint32)

	// Readable reports whether the receive FIFO holds at least one byte.
	Readable() bool

	// Writable reports whether the transmit FIFO has room for a byte.
	Writable() bool

	// Busy reports whether the peripheral is still clocking bits.
	Busy() bool

	// ReadData pops one byte from the receive FIFO. Callers check Readable
	// first.
	ReadData() byte

	// WriteData pushes one byte into the transmit FIFO. Callers check
	// Writable first.
	WriteData(b byte)

	// StartRx arms the receive DMA channel: count bytes from the receive
	// register into dst, incrementing the destination address only when
	// increment is set. count may exceed len(dst) when increment is false.
	StartRx(dst []byte, increment bool, count int)

	// StartTx arms the transmit DMA channel: count bytes from src into the
	// transmit register, incrementing the source address only when
	// increment is set.
	StartTx(src []byte, increment bool, count int)

	// EnableRequests turns on the peripheral's DMA request lines, starting
	// the armed transfer. DisableRequests turns them back off.
	EnableRequests()
	DisableRequests()

	// RxComplete and TxComplete report whether the armed channels have
	// drained their transfer counts.
	RxComplete() bool
	TxComplete() bool

	// RxOverrun reports the raw receive-overrun interrupt status.
	RxOverrun() bool

	// AbortRx halts the receive DMA channel and waits for it to go
	// inactive.
	AbortRx()

	// ClearOverrun acknowledges the receive-overrun interrupt.
	ClearOverrun()
}
