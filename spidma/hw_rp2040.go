//go:build tinygo && (rp2040 || rp2350)

package spidma

import (
	"device/rp"
	"machine"
	"unsafe"
)

// PL022 SSP status and interrupt bits.
const (
	sspStatusTNF = 1 << 1 // Transmit FIFO not full.
	sspStatusRNE = 1 << 2 // Receive FIFO not empty.
	sspStatusBSY = 1 << 4 // Peripheral still clocking bits.

	sspRawIntROR = 1 << 0 // Receive overrun raw interrupt status.
	sspIntClrROR = 1 << 0 // Receive overrun interrupt clear.

	sspDMARxEnable = 1 << 0
	sspDMATxEnable = 1 << 1
)

// DMA request signals for the two SSP instances.
const (
	dreqSPI0TX = 16
	dreqSPI0RX = 17
	dreqSPI1TX = 18
	dreqSPI1RX = 19
)

// RP2Hardware drives one of the RP2040/RP2350 PL022 SSP peripherals through
// the register interface the exchange engine needs, with a pair of DMA
// channels claimed for the lifetime of the object.
type RP2Hardware struct {
	spi    *machine.SPI
	bus    *rp.SPI0_Type
	cs     machine.Pin
	chRx   int
	chTx   int
	dreqRx uint32
	dreqTx uint32
}

// NewRP2Hardware configures the SPI peripheral and chip select pin and
// claims two DMA channels. The chip select starts deasserted (high). Only
// 8-bit frames are supported; machine.SPI.Configure programs exactly that.
func NewRP2Hardware(spi *machine.SPI, cfg machine.SPIConfig, cs machine.Pin) (*RP2Hardware, error) {
	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	cs.High()
	if err := spi.Configure(cfg); err != nil {
		return nil, err
	}

	chTx, err := reserveDMAChannel()
	if err != nil {
		return nil, err
	}
	chRx, err := reserveDMAChannel()
	if err != nil {
		releaseDMAChannel(chTx)
		return nil, err
	}

	hw := &RP2Hardware{
		spi:    spi,
		bus:    spi.Bus,
		cs:     cs,
		chRx:   chRx,
		chTx:   chTx,
		dreqRx: dreqSPI0RX,
		dreqTx: dreqSPI0TX,
	}
	if spi.Bus == rp.SPI1 {
		hw.dreqRx = dreqSPI1RX
		hw.dreqTx = dreqSPI1TX
	}
	return hw, nil
}

// Release returns the claimed DMA channels to the pool.
func (h *RP2Hardware) Release() {
	releaseDMAChannel(h.chRx)
	releaseDMAChannel(h.chTx)
	h.chRx = -1
	h.chTx = -1
}

func (h *RP2Hardware) SetChipSelect(level bool) {
	h.cs.Set(level)
}

func (h *RP2Hardware) SetFrequency(hz uint32) {
	h.spi.SetBaudRate(hz)
}

func (h *RP2Hardware) Readable() bool {
	return h.bus.SSPSR.HasBits(sspStatusRNE)
}

func (h *RP2Hardware) Writable() bool {
	return h.bus.SSPSR.HasBits(sspStatusTNF)
}

func (h *RP2Hardware) Busy() bool {
	return h.bus.SSPSR.HasBits(sspStatusBSY)
}

func (h *RP2Hardware) ReadData() byte {
	return byte(h.bus.SSPDR.Get())
}

func (h *RP2Hardware) WriteData(b byte) {
	h.bus.SSPDR.Set(uint32(b))
}

// channelControl builds a CTRL_TRIG value for an 8-bit transfer paced by
// dreq. Chaining is pointed at the channel itself, which disables it.
func channelControl(channel int, dreq uint32, incrRead, incrWrite bool) uint32 {
	ctrl := uint32(rp.DMA_CH0_CTRL_TRIG_EN) |
		dreq<<rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_Pos |
		uint32(channel)<<rp.DMA_CH0_CTRL_TRIG_CHAIN_TO_Pos
	if incrRead {
		ctrl |= rp.DMA_CH0_CTRL_TRIG_INCR_READ
	}
	if incrWrite {
		ctrl |= rp.DMA_CH0_CTRL_TRIG_INCR_WRITE
	}
	return ctrl
}

func (h *RP2Hardware) StartRx(dst []byte, increment bool, count int) {
	ch := &dmaChannels[h.chRx]
	ch.READ_ADDR.Set(uint32(uintptr(unsafe.Pointer(&h.bus.SSPDR))))
	ch.WRITE_ADDR.Set(uint32(uintptr(unsafe.Pointer(&dst[0]))))
	ch.TRANS_COUNT.Set(uint32(count))
	ch.CTRL_TRIG.Set(channelControl(h.chRx, h.dreqRx, false, increment))
}

func (h *RP2Hardware) StartTx(src []byte, increment bool, count int) {
	ch := &dmaChannels[h.chTx]
	ch.READ_ADDR.Set(uint32(uintptr(unsafe.Pointer(&src[0]))))
	ch.WRITE_ADDR.Set(uint32(uintptr(unsafe.Pointer(&h.bus.SSPDR))))
	ch.TRANS_COUNT.Set(uint32(count))
	ch.CTRL_TRIG.Set(channelControl(h.chTx, h.dreqTx, increment, false))
}

func (h *RP2Hardware) EnableRequests() {
	h.bus.SSPDMACR.Set(sspDMARxEnable | sspDMATxEnable)
}

func (h *RP2Hardware) DisableRequests() {
	h.bus.SSPDMACR.Set(0)
}

func (h *RP2Hardware) RxComplete() bool {
	return !dmaChannels[h.chRx].CTRL_TRIG.HasBits(rp.DMA_CH0_CTRL_TRIG_BUSY)
}

func (h *RP2Hardware) TxComplete() bool {
	return !dmaChannels[h.chTx].CTRL_TRIG.HasBits(rp.DMA_CH0_CTRL_TRIG_BUSY)
}

func (h *RP2Hardware) RxOverrun() bool {
	return h.bus.SSPRIS.HasBits(sspRawIntROR)
}

func (h *RP2Hardware) AbortRx() {
	rp.DMA.CHAN_ABORT.Set(1 << uint(h.chRx))
	for rp.DMA.CHAN_ABORT.Get() != 0 {
	}
}

func (h *RP2Hardware) ClearOverrun() {
	h.bus.SSPICR.Set(sspIntClrROR)
}
