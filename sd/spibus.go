package sd

import "tinygo.org/x/drivers"

// SPIBus adapts a plain full-duplex SPI implementation and a chip select
// control into the Bus the driver consumes, for targets without the DMA
// exchange engine. Send degrades to a blocking exchange and Transfer is
// chunked through scratch buffers, so it is slower than spidma but works on
// any board.
type SPIBus struct {
	spi          drivers.SPI
	setCS        func(level bool)
	setFrequency func(hz uint32)
	byteCount    uint32
	scratchW     [64]byte
	scratchR     [64]byte
}

var _ Bus = (*SPIBus)(nil)

// NewSPIBus wraps spi. setFrequency may be nil when the clock cannot be
// changed at run time; the whole session then runs at the constructed rate,
// which must be one the card accepts in idle state.
func NewSPIBus(spi drivers.SPI, setCS func(level bool), setFrequency func(hz uint32)) *SPIBus {
	return &SPIBus{
		spi:          spi,
		setCS:        setCS,
		setFrequency: setFrequency,
	}
}

func (b *SPIBus) SetChipSelect(level bool) {
	b.setCS(level)
}

func (b *SPIBus) SetFrequency(hz uint32) {
	if b.setFrequency != nil {
		b.setFrequency(hz)
	}
}

func (b *SPIBus) Send(data byte) {
	b.byteCount++
	b.spi.Transfer(data)
}

func (b *SPIBus) Exchange(data byte) byte {
	b.byteCount++
	received, _ := b.spi.Transfer(data)
	return received
}

func (b *SPIBus) Transfer(w, r []byte) error {
	if len(w) == 0 {
		panic("sd: transfer requires data to write")
	}
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	b.byteCount += uint32(n)

	for offset := 0; offset < n; {
		chunk := n - offset
		if chunk > len(b.scratchW) {
			chunk = len(b.scratchW)
		}

		tx := b.scratchW[:chunk]
		if len(w) == n {
			tx = w[offset : offset+chunk]
		} else {
			// Single byte source, repeated for every beat.
			for i := range tx {
				tx[i] = w[0]
			}
		}

		rx := b.scratchR[:chunk]
		if len(r) == n {
			rx = r[offset : offset+chunk]
		}

		if err := b.spi.Tx(tx, rx); err != nil {
			return err
		}
		if len(r) == 1 {
			// Only the final received byte is retained.
			r[0] = rx[chunk-1]
		}
		offset += chunk
	}
	return nil
}

// ByteCount returns the number of bytes clocked over the wire since the
// last reset. Useful for throughput reporting.
func (b *SPIBus) ByteCount() uint32 {
	return b.byteCount
}

// ResetByteCount zeroes the wire byte counter.
func (b *SPIBus) ResetByteCount() {
	b.byteCount = 0
}
