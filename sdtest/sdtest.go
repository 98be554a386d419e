// Package sdtest formats SD card registers and driver diagnostics for
// humans. It backs the demo firmware and host tooling; the driver itself
// never imports it.
package sdtest

import (
	"fmt"
	"io"

	"github.com/adamgreen/SDCard/protocol"
	"github.com/adamgreen/SDCard/sd"
)

var months = [16]string{
	"???", "January", "February", "March", "April", "May", "June", "July",
	"August", "September", "October", "November", "December", "???", "???", "???",
}

// CheckLog drains the driver's error log to w when it holds anything.
func CheckLog(w io.Writer, card *sd.Card) {
	if card.LogIsEmpty() {
		return
	}
	fmt.Fprintf(w, "**SD driver internal errors**\n")
	card.DumpLog(w)
	card.ClearLog()
}

// DumpOCR prints the operating conditions register bit fields.
func DumpOCR(w io.Writer, ocr uint32) {
	fmt.Fprintf(w, "  OCR = 0x%08X\n", ocr)
	fmt.Fprintf(w, "          Card Power Up Status: %d\n", bit(ocr, 31))
	fmt.Fprintf(w, "          Card Capacity Status: %d\n", bit(ocr, 30))
	fmt.Fprintf(w, "            UHS-II Card Status: %d\n", bit(ocr, 29))
	fmt.Fprintf(w, "    Switching to 1.8V Accepted: %d\n", bit(ocr, 24))
	voltage := 27
	for i := 15; i <= 23; i++ {
		fmt.Fprintf(w, "                    %d.%d - %d.%dV: %d\n",
			voltage/10, voltage%10, (voltage+1)/10, (voltage+1)%10, bit(ocr, uint(i)))
		voltage++
	}
}

// DumpCID prints the card identification register fields.
func DumpCID(w io.Writer, cid []byte) {
	fmt.Fprintf(w, "  CID =")
	for _, b := range cid {
		fmt.Fprintf(w, " 0x%02X", b)
	}
	fmt.Fprintf(w, "\n")

	productRevision := protocol.ExtractBits(cid, 56, 63)
	year := 2000 + protocol.ExtractBits(cid, 12, 19)
	month := protocol.ExtractBits(cid, 8, 11)

	fmt.Fprintf(w, "          Manufacturer ID: 0x%02X\n", protocol.ExtractBits(cid, 120, 127))
	fmt.Fprintf(w, "                   OEM ID: %s\n", printable(cid[1:3]))
	fmt.Fprintf(w, "             Product Name: %s\n", printable(cid[3:8]))
	fmt.Fprintf(w, "         Product Revision: %d.%d\n", productRevision>>4, productRevision&0xF)
	fmt.Fprintf(w, "    Product Serial Number: 0x%08X\n", protocol.ExtractBits(cid, 24, 55))
	fmt.Fprintf(w, "       Manufacturing Date: %s %d\n", months[month], year)
	fmt.Fprintf(w, "                 Checksum: 0x%02X\n", protocol.ExtractBits(cid, 1, 7))
}

// DumpCSD prints the card specific data register fields for either CSD
// layout version.
func DumpCSD(w io.Writer, csd []byte) {
	fmt.Fprintf(w, "  CSD =")
	for _, b := range csd {
		fmt.Fprintf(w, " 0x%02X", b)
	}
	fmt.Fprintf(w, "\n")

	switch protocol.CSDStructure(csd) {
	case protocol.CSDVersion1:
		dumpCSDv1(w, csd)
	case protocol.CSDVersion2:
		dumpCSDv2(w, csd)
	default:
		fmt.Fprintf(w, "    Unknown CSD_STRUCTURE value: %d\n", protocol.CSDStructure(csd))
	}
}

func dumpCSDv1(w io.Writer, csd []byte) {
	cSize := protocol.ExtractBits(csd, 62, 73)
	cSizeMult := protocol.ExtractBits(csd, 47, 49)
	readBlockLength := protocol.ExtractBits(csd, 80, 83)
	diskSize := uint64(cSize+1) << (cSizeMult + 2 + readBlockLength)

	fmt.Fprintf(w, "    CSD Version: 1.0\n")
	dumpCSDCommon(w, csd)
	fmt.Fprintf(w, "                            Device Size: %d (%d bytes)\n", cSize+1, diskSize)
	fmt.Fprintf(w, "                 Device Size Multiplier: %d\n", 1<<(cSizeMult+2))
}

func dumpCSDv2(w io.Writer, csd []byte) {
	cSize := protocol.ExtractBits(csd, 48, 69)
	diskSize := uint64(cSize+1) << 10 * 512

	fmt.Fprintf(w, "    CSD Version: 2.0\n")
	dumpCSDCommon(w, csd)
	fmt.Fprintf(w, "                            Device Size: %d bytes\n", diskSize)
}

func dumpCSDCommon(w io.Writer, csd []byte) {
	fmt.Fprintf(w, "                  Data Read Access-Time: 0x%02X\n", protocol.ExtractBits(csd, 112, 119))
	fmt.Fprintf(w, "                      Max Transfer Rate: 0x%02X\n", protocol.ExtractBits(csd, 96, 103))
	ccc := protocol.ExtractBits(csd, 84, 95)
	fmt.Fprintf(w, "                   Card Command Classes: 0x%03X\n", ccc)
	fmt.Fprintf(w, "             Max Read Data Block Length: %d\n", 1<<protocol.ExtractBits(csd, 80, 83))
	fmt.Fprintf(w, "        Partial Blocks for Read Allowed: %s\n", yesNo(protocol.ExtractBits(csd, 79, 79)))
	fmt.Fprintf(w, "                        DSR Implemented: %s\n", yesNo(protocol.ExtractBits(csd, 76, 76)))
	fmt.Fprintf(w, "              Erase Single Block Enable: %s\n", yesNo(protocol.ExtractBits(csd, 46, 46)))
	fmt.Fprintf(w, "        Erase Sector Size (SECTOR_SIZE): %d\n", protocol.ExtractBits(csd, 39, 45)+1)
	fmt.Fprintf(w, "                     Write Speed Factor: %d\n", 1<<protocol.ExtractBits(csd, 26, 28))
	fmt.Fprintf(w, "            Max Write Data Block Length: %d\n", 1<<protocol.ExtractBits(csd, 22, 25))
	fmt.Fprintf(w, "       Partial Blocks for Write Allowed: %s\n", yesNo(protocol.ExtractBits(csd, 21, 21)))
	fmt.Fprintf(w, "                              Copy Flag: %s\n", copyFlag(protocol.ExtractBits(csd, 14, 14)))
	fmt.Fprintf(w, "             Permanent Write Protection: %d\n", protocol.ExtractBits(csd, 13, 13))
	fmt.Fprintf(w, "             Temporary Write Protection: %d\n", protocol.ExtractBits(csd, 12, 12))
	fmt.Fprintf(w, "                            File Format: %d\n", protocol.ExtractBits(csd, 10, 11))
	fmt.Fprintf(w, "                                    CRC: 0x%02X\n", protocol.ExtractBits(csd, 1, 7))
}

// DumpCounters prints every non-zero diagnostic counter, one per line.
func DumpCounters(w io.Writer, c sd.Counters) {
	fmt.Fprintf(w, "SD Card Driver Counters\n")
	counters := []struct {
		name  string
		value uint32
	}{
		{"selectFirstExchangeRequired", c.SelectFirstExchangeRequired},
		{"maximumWaitWhileBusyTime", c.MaximumWaitWhileBusyTime},
		{"maximumWaitForR1ResponseLoopCount", c.MaximumWaitForR1ResponseLoopCount},
		{"maximumCRCRetryCount", c.MaximumCRCRetryCount},
		{"maximumACMD41LoopTime", c.MaximumACMD41LoopTime},
		{"maximumReceiveDataBlockWaitTime", c.MaximumReceiveDataBlockWaitTime},
		{"maximumReadRetryCount", c.MaximumReadRetryCount},
		{"cmd12PaddingByteRequired", c.CMD12PaddingByteRequired},
		{"maximumWriteRetryCount", c.MaximumWriteRetryCount},
		{"cmdCRCErrors", c.CmdCRCErrors},
		{"receiveTimeouts", c.ReceiveTimeouts},
		{"receiveBadTokens", c.ReceiveBadTokens},
		{"receiveTransferFailures", c.ReceiveTransferFailures},
		{"receiveCRCErrors", c.ReceiveCRCErrors},
		{"transmitTimeouts", c.TransmitTimeouts},
		{"transmitTransferFailures", c.TransmitTransferFailures},
		{"transmitResponseErrors", c.TransmitResponseErrors},
	}
	for _, counter := range counters {
		if counter.value != 0 {
			fmt.Fprintf(w, "    %s = %d\n", counter.name, counter.value)
		}
	}
}

func bit(value uint32, index uint) int {
	if value&(1<<index) != 0 {
		return 1
	}
	return 0
}

func yesNo(value uint32) string {
	if value != 0 {
		return "yes"
	}
	return "no"
}

func copyFlag(value uint32) string {
	if value != 0 {
		return "copy"
	}
	return "original"
}

func printable(data []byte) string {
	out := make([]byte, len(data))
	for i, b := range data {
		if b < 0x20 || b > 0x7E {
			b = '.'
		}
		out[i] = b
	}
	return string(out)
}
