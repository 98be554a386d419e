// Package spidma implements an SPI exchange engine with DMA bulk transfers.
// It exposes more functionality than a stock SPI transfer call:
//   - Transfer performs multi-byte exchanges over two DMA channels so the
//     CPU only waits for completion.
//   - Separate Send and Exchange calls let callers block on SPI reads only
//     when the received byte actually matters, taking advantage of the
//     peripheral FIFO instead of waiting out every byte.
package spidma

import "errors"

// FifoDepth is the element count of the peripheral receive FIFO. Pending
// discarded reads may never exceed it or the FIFO would overflow.
const FifoDepth = 8

// ErrOverrun is returned by Transfer when the receive FIFO overflowed and
// the transfer had to be aborted.
var ErrOverrun = errors.New("spidma: receive FIFO overrun")

// SPIDma drives one SPI peripheral. It tracks how many bytes have been sent
// without their received counterparts being read, so Send can stay
// non-blocking while Exchange and Transfer still observe a clean FIFO.
type SPIDma struct {
	hw             Hardware
	readsToDiscard int
	byteCount      uint32
	dummy          [1]byte
}

// New wraps a Hardware implementation in the exchange engine.
func New(hw Hardware) *SPIDma {
	return &SPIDma{hw: hw}
}

// SetChipSelect drains any outstanding work, then drives the chip select
// line.
func (s *SPIDma) SetChipSelect(level bool) {
	s.WaitForCompletion()
	s.hw.SetChipSelect(level)
}

// SetFrequency drains any outstanding work, then reprograms the serial
// clock.
func (s *SPIDma) SetFrequency(hz uint32) {
	s.WaitForCompletion()
	s.hw.SetFrequency(hz)
}

// Send writes one byte without waiting for its received counterpart. The
// read is discarded later. If the pending discard count would exceed the
// FIFO depth, one byte is first drained synchronously.
func (s *SPIDma) Send(b byte) {
	s.readDiscardedNonBlocking()
	if s.readsToDiscard >= FifoDepth {
		s.readDiscardedBlocking()
	}
	s.readsToDiscard++
	s.byteCount++
	s.write(b)
}

// Exchange flushes all pending discarded reads, writes one byte, and blocks
// until its received byte is available.
func (s *SPIDma) Exchange(b byte) byte {
	s.completeDiscardedReads()
	s.byteCount++
	s.write(b)
	return s.read()
}

// Transfer performs a DMA bulk exchange of max(len(w), len(r)) bytes.
//
//   - len(w) == 1 repeats the single byte for every beat.
//   - len(r) == 1 retains only the final received byte at r[0].
//   - len(r) == 0 discards everything received.
//   - len(r) == max keeps every received byte; pending discarded reads are
//     drained first so they cannot contaminate r.
//
// On receive FIFO overrun the transfer is aborted and ErrOverrun returned.
func (s *SPIDma) Transfer(w, r []byte) error {
	writeCount := len(w)
	readCount := len(r)
	if writeCount == 0 {
		panic("spidma: transfer requires data to write")
	}
	transferCount := writeCount
	if readCount > transferCount {
		transferCount = readCount
	}
	actualReadCount := transferCount
	readIncrement := readCount > 1
	writeIncrement := writeCount > 1

	dst := r
	if readCount == 0 {
		// Discarded reads land in a scratch byte.
		dst = s.dummy[:]
	}

	if readCount == transferCount {
		// Complete read buffer, so pre-drain pending discarded reads to
		// keep them out of r.
		s.completeDiscardedReads()
	} else if s.readsToDiscard > 0 {
		// The receive address is not incrementing, so the pending reads can
		// be folded into the DMA receive count instead of busy waiting.
		if readIncrement {
			panic("spidma: discarded reads folded into incrementing receive")
		}
		actualReadCount += s.readsToDiscard
		s.readsToDiscard = 0
	}
	s.byteCount += uint32(transferCount)

	s.hw.StartRx(dst, readIncrement, actualReadCount)
	s.hw.StartTx(w, writeIncrement, transferCount)
	s.hw.EnableRequests()

	for !s.hw.TxComplete() {
	}

	// Wait for the receive channel, checking for FIFO overrun every 16
	// spins. Reading peripheral status registers on every spin would slow
	// the DMA it is competing with for bus cycles.
	overrun := false
	for iteration := 0; !s.hw.RxComplete(); {
		iteration++
		if iteration&(16-1) == 0 && s.hw.RxOverrun() {
			s.hw.DisableRequests()
			s.hw.AbortRx()
			s.WaitForCompletion()
			for s.hw.Readable() {
				s.hw.ReadData()
			}
			s.hw.ClearOverrun()
			overrun = true
			break
		}
	}

	s.hw.DisableRequests()
	if overrun {
		return ErrOverrun
	}
	return nil
}

// WaitForCompletion blocks until the peripheral has finished clocking all
// queued bytes and every pending discarded read has been drained.
func (s *SPIDma) WaitForCompletion() {
	for s.hw.Busy() {
	}
	s.completeDiscardedReads()
}

// ByteCount returns the number of bytes clocked over the wire since the last
// reset. Useful for throughput reporting.
func (s *SPIDma) ByteCount() uint32 {
	return s.byteCount
}

// ResetByteCount zeroes the wire byte counter.
func (s *SPIDma) ResetByteCount() {
	s.byteCount = 0
}

func (s *SPIDma) write(b byte) {
	for !s.hw.Writable() {
	}
	s.hw.WriteData(b)
}

func (s *SPIDma) read() byte {
	for !s.hw.Readable() {
	}
	return s.hw.ReadData()
}

// readDiscardedNonBlocking drains pending discarded reads for as long as the
// FIFO has data, without waiting.
func (s *SPIDma) readDiscardedNonBlocking() {
	for s.readsToDiscard > 0 && s.hw.Readable() {
		s.hw.ReadData()
		s.readsToDiscard--
	}
}

// readDiscardedBlocking drains exactly one pending discarded read, waiting
// for it if necessary.
func (s *SPIDma) readDiscardedBlocking() {
	s.read()
	s.readsToDiscard--
}

func (s *SPIDma) completeDiscardedReads() {
	for s.readsToDiscard > 0 {
		s.readDiscardedBlocking()
	}
}
