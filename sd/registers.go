package sd

import "github.com/adamgreen/SDCard/protocol"

// Sync blocks until the card has finished any outstanding write. Selecting
// the card runs the busy wait; there is nothing else to flush.
func (c *Card) Sync() Result {
	defer beginFlow()()

	if !c.selectCard() {
		c.log.Logf("Sync() - Failed waiting for not busy\n")
		return ResError
	}
	c.deselectCard()
	return ResOK
}

// Sectors returns the number of 512 byte sectors on the card, or 0 on
// failure. The count is computed from the CSD register (5.3.1).
func (c *Card) Sectors() uint32 {
	defer beginFlow()()

	if c.status&StatusNoInit != 0 {
		c.log.Logf("Sectors() - Attempt to query uninitialized drive\n")
		return 0
	}

	var csd [16]byte
	if c.sendCommandAndReceiveDataBlock(protocol.CMD9, 0, csd[:]) != ResOK {
		c.log.Logf("Sectors() - Failed to read CSD\n")
		return 0
	}

	return protocol.SectorCount(csd[:])
}

// GetCID reads the 16 byte card identification register.
func (c *Card) GetCID(cid []byte) Result {
	defer beginFlow()()

	if len(cid) != 16 {
		c.log.Logf("GetCID(%d) - CID register is 16 bytes\n", len(cid))
		return ResParamError
	}
	result := c.sendCommandAndReceiveDataBlock(protocol.CMD10, 0, cid)
	if result != ResOK {
		c.log.Logf("GetCID(%d) - Register read failed\n", len(cid))
	}
	return result
}

// GetCSD reads the 16 byte card specific data register.
func (c *Card) GetCSD(csd []byte) Result {
	defer beginFlow()()

	if len(csd) != 16 {
		c.log.Logf("GetCSD(%d) - CSD register is 16 bytes\n", len(csd))
		return ResParamError
	}
	result := c.sendCommandAndReceiveDataBlock(protocol.CMD9, 0, csd)
	if result != ResOK {
		c.log.Logf("GetCSD(%d) - Register read failed\n", len(csd))
	}
	return result
}

// GetOCR reads the 32 bit operating conditions register.
func (c *Card) GetOCR(ocr *uint32) Result {
	defer beginFlow()()

	r1 := c.command(protocol.CMD58, 0, ocr)
	if r1&protocol.R1ErrorsMask != 0 {
		c.log.Logf("GetOCR() - Register read failed. Response=0x%02X\n", r1)
		return ResError
	}
	return ResOK
}
