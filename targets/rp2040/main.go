//go:build rp2040 || rp2350

// Soak and performance exerciser for the SD card driver. It initializes the
// card, dumps the identification registers, waits for a byte on the serial
// console, then loops writing and verifying seeded pseudo-random blocks
// until another byte arrives. Every 64th pass reports wire throughput; the
// driver's diagnostic counters are dumped when the loop ends.
//
// The card bus is chosen from the configured pins: pin sets that land on a
// hardware SPI controller mux get the DMA exchange engine, anything else is
// driven through a PIO state machine.
package main

import (
	"fmt"
	"machine"
	"os"
	"time"

	"github.com/adamgreen/SDCard/sd"
	"github.com/adamgreen/SDCard/sdtest"
	"github.com/adamgreen/SDCard/spidma"
)

// Wiring for the SD card socket. Move these to any free pins; newCardBus
// falls back to the PIO bus when they don't map onto a hardware SPI mux.
const (
	pinSCK  = machine.GPIO18
	pinMOSI = machine.GPIO19
	pinMISO = machine.GPIO16
	pinCS   = machine.GPIO17
)

const (
	// First block of the test region. Leaves the start of the card alone so
	// a filesystem's partition table survives an accidental run.
	testRegionStart = 0x40000
	blocksPerPass   = 32
)

// spiPinMux is one legal pin assignment of a hardware SPI controller.
type spiPinMux struct {
	spi *machine.SPI
	sck machine.Pin
	sdo machine.Pin
	sdi machine.Pin
}

// The GPIO muxes the two SPI controllers can reach.
var spiPinMuxes = []spiPinMux{
	{machine.SPI0, machine.GPIO2, machine.GPIO3, machine.GPIO0},
	{machine.SPI0, machine.GPIO6, machine.GPIO7, machine.GPIO4},
	{machine.SPI0, machine.GPIO18, machine.GPIO19, machine.GPIO16},
	{machine.SPI0, machine.GPIO22, machine.GPIO23, machine.GPIO20},
	{machine.SPI1, machine.GPIO10, machine.GPIO11, machine.GPIO8},
	{machine.SPI1, machine.GPIO14, machine.GPIO15, machine.GPIO12},
	{machine.SPI1, machine.GPIO26, machine.GPIO27, machine.GPIO24},
}

// wireCounter is satisfied by buses that count bytes clocked over the wire.
type wireCounter interface {
	ByteCount() uint32
	ResetByteCount()
}

// newCardBus picks the transport for the configured pins: the DMA exchange
// engine when they map onto a hardware SPI controller, a PIO state machine
// bus otherwise. The returned release function frees any claimed DMA
// channels.
func newCardBus() (sd.Bus, func(), error) {
	for _, mux := range spiPinMuxes {
		if mux.sck != pinSCK || mux.sdo != pinMOSI || mux.sdi != pinMISO {
			continue
		}
		hw, err := spidma.NewRP2Hardware(mux.spi, machine.SPIConfig{
			Frequency: 400000,
			SCK:       pinSCK,
			SDO:       pinMOSI,
			SDI:       pinMISO,
			Mode:      0,
		}, pinCS)
		if err != nil {
			return nil, nil, err
		}
		return spidma.New(hw), hw.Release, nil
	}

	// The PIO program runs at a fixed clock, so the whole session stays at
	// the idle-state rate every card accepts.
	bus, err := newPIOBus(pinSCK, pinMOSI, pinMISO, pinCS, 400000)
	if err != nil {
		return nil, nil, err
	}
	return bus, func() {}, nil
}

func main() {
	// Give the USB console a moment to enumerate.
	time.Sleep(2 * time.Second)

	bus, release, err := newCardBus()
	if err != nil {
		fmt.Printf("error: bus setup failed: %v\n", err)
		return
	}
	defer release()

	card := sd.New(bus, sd.DefaultConfig())

	fmt.Println("\nSDCard Soak Test")
	if status := card.Init(); status != 0 {
		fmt.Printf("error: card init failed, status=%d\n", status)
		sdtest.CheckLog(os.Stdout, card)
		return
	}

	dumpCardInfo(card)

	sectors := card.Sectors()
	sdtest.CheckLog(os.Stdout, card)
	if sectors/2 <= testRegionStart+blocksPerPass {
		fmt.Println("error: card too small for the test region")
		return
	}

	// Any byte from the console starts the soak loop; the next one stops it.
	for machine.Serial.Buffered() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	machine.Serial.ReadByte()

	fmt.Println("Starting soak test now...")
	seed := uint32(time.Now().UnixNano())
	buffer := make([]byte, blocksPerPass*sd.BlockSize)
	verify := make([]byte, blocksPerPass*sd.BlockSize)
	counter, _ := bus.(wireCounter)
	pass := uint32(0)

	for {
		if machine.Serial.Buffered() > 0 {
			machine.Serial.ReadByte()
			break
		}

		block := testRegionStart + (pass*blocksPerPass)%(sectors/2-testRegionStart)
		for i := uint32(0); i < blocksPerPass; i++ {
			fillPattern(buffer[i*sd.BlockSize:(i+1)*sd.BlockSize], block+i, seed)
		}

		if counter != nil {
			counter.ResetByteCount()
		}
		start := time.Now()
		if result := card.Write(buffer, block, blocksPerPass); result != sd.ResOK {
			fmt.Printf("error: write pass %d at block %d: %v\n", pass, block, result)
			break
		}
		if result := card.Read(verify, block, blocksPerPass); result != sd.ResOK {
			fmt.Printf("error: read pass %d at block %d: %v\n", pass, block, result)
			break
		}
		elapsed := time.Since(start)

		if !verifyPattern(verify, block, seed) {
			fmt.Printf("error: verify mismatch on pass %d at block %d\n", pass, block)
			break
		}

		pass++
		if pass%64 == 0 && counter != nil {
			bytesPerSecond := float64(counter.ByteCount()) / elapsed.Seconds()
			fmt.Printf("pass %d: block=%d wire=%.0f bytes/sec\n", pass, block, bytesPerSecond)
		}
	}

	fmt.Printf("\nCompleted %d passes.\n", pass)
	sdtest.DumpCounters(os.Stdout, card.Counters())
	sdtest.CheckLog(os.Stdout, card)
}

func dumpCardInfo(card *sd.Card) {
	var ocr uint32
	if card.GetOCR(&ocr) == sd.ResOK {
		sdtest.DumpOCR(os.Stdout, ocr)
	}
	var cid [16]byte
	if card.GetCID(cid[:]) == sd.ResOK {
		sdtest.DumpCID(os.Stdout, cid[:])
	}
	var csd [16]byte
	if card.GetCSD(csd[:]) == sd.ResOK {
		sdtest.DumpCSD(os.Stdout, csd[:])
	}
	sdtest.CheckLog(os.Stdout, card)
}

// fillPattern writes the seeded pseudo-random soak pattern: every 32-bit
// word mixes the block number, the run seed, and the word index, so stale
// data from another block or run never verifies.
func fillPattern(buf []byte, block, seed uint32) {
	blockSeed := block ^ seed
	for i := uint32(0); i < sd.BlockSize/4; i++ {
		wordSeed := i | i<<8 | i<<16 | i<<24
		word := blockSeed ^ wordSeed
		buf[i*4+0] = byte(word)
		buf[i*4+1] = byte(word >> 8)
		buf[i*4+2] = byte(word >> 16)
		buf[i*4+3] = byte(word >> 24)
	}
}

func verifyPattern(buf []byte, startBlock, seed uint32) bool {
	expected := make([]byte, sd.BlockSize)
	for block := uint32(0); block < uint32(len(buf))/sd.BlockSize; block++ {
		fillPattern(expected, startBlock+block, seed)
		offset := block * sd.BlockSize
		for i, b := range expected {
			if buf[offset+uint32(i)] != b {
				return false
			}
		}
	}
	return true
}
