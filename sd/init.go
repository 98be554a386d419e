package sd

import "github.com/adamgreen/SDCard/protocol"

// Init runs the initialization flow from section "7.2.1 Mode Selection and
// Initialization" of the SD Physical Layer Simplified Specification. On any
// failure the status keeps its not-initialized bit and the diagnostic log
// describes the cause.
func (c *Card) Init() Status {
	defer beginFlow()()

	isSDv2 := false

	// 4.2.1 Card Reset - Cards accept a 400kHz clock rate in idle state.
	c.bus.SetFrequency(c.cfg.InitClockHz)

	// 6.4.1.1 Power Up Time of Card - Send 8 bytes of 0xFF (8*8 = 64
	// clocks) with chip select deasserted.
	c.bus.SetChipSelect(true)
	for i := 0; i < 8; i++ {
		c.bus.Send(0xFF)
	}

	// CMD0 resets all types of SD cards into the idle state. Since this is
	// the first command with chip select low, it also switches the card
	// into SPI mode.
	r1 := c.command(protocol.CMD0, 0, nil)
	if r1 != protocol.R1Idle {
		c.log.Logf("Init() - CMD0 returned 0x%02X. Is card inserted?\n", r1)
		return c.status
	}

	// 7.2.2 Bus Transfer Protection - CRC is disabled by default in SPI
	// mode, so turn it on before anything else goes over the wire.
	r1 = c.command(protocol.CMD59, protocol.CMD59CRCOption, nil)
	if r1 != protocol.R1Idle {
		c.log.Logf("Init() - CMD59 returned 0x%02X\n", r1)
		return c.status
	}

	// 4.3.13 Send Interface Condition Command (CMD8) - Host signals that
	// it can supply 2.7-3.6V. A v2 card echoes the argument back; a v1 card
	// answers with an illegal command error.
	r7 := uint32(0xFFFFFFFF)
	r1 = c.command(protocol.CMD8, protocol.CMD8VHS27To36V|protocol.CMD8CheckPattern, &r7)
	if r1 == protocol.R1Idle {
		isSDv2 = true
		if r7&protocol.R7VHSCheckMask != protocol.CMD8VHS27To36V|protocol.CMD8CheckPattern {
			c.log.Logf("Init() - CMD8 returned 0x%08X (expected 0x%08X)\n",
				r7, uint32(protocol.CMD8VHS27To36V|protocol.CMD8CheckPattern))
			return c.status
		}
	} else if r1&protocol.R1IllegalCommand != 0 {
		isSDv2 = false
	} else {
		c.log.Logf("Init() - CMD8 returned 0x%02X\n", r1)
		return c.status
	}

	// 5.1 OCR register - Make sure the card supports 3.3V.
	ocr := uint32(0xFFFFFFFF)
	r1 = c.command(protocol.CMD58, 0, &ocr)
	if r1 != protocol.R1Idle {
		c.log.Logf("Init() - CMD58 returned 0x%02X during voltage check\n", r1)
		return c.status
	}
	if ocr&protocol.OCR32To33V == 0 {
		c.log.Logf("Init() - CMD58 3.3V not supported. OCR=0x%08X\n", ocr)
		return c.status
	}

	// Issue ACMD41 until the card leaves the idle state, for up to a
	// second. For v2 cards the HCS bit tells the card this host supports
	// high capacity media.
	var elapsed uint32
	start := c.nowMillis()
	for {
		arg := uint32(0)
		if isSDv2 {
			arg = protocol.ACMD41HCS
		}
		r1 = c.command(protocol.ACMD41, arg, nil)
		elapsed = c.nowMillis() - start
		if r1 != protocol.R1Idle || elapsed >= c.cfg.ACMD41TimeoutMillis {
			break
		}
	}
	if elapsed > c.counters.MaximumACMD41LoopTime {
		c.counters.MaximumACMD41LoopTime = elapsed
	}
	if r1 == protocol.R1Idle {
		c.log.Logf("Init() - ACMD41 timed out attempting to leave idle state\n")
		return c.status
	} else if r1&protocol.R1ErrorsMask != 0 {
		c.log.Logf("Init() - ACMD41 returned 0x%02X\n", r1)
		return c.status
	}

	if isSDv2 {
		// A v2 card can be standard or high capacity; the CCS bit in the
		// OCR only becomes valid once the card has left the idle state.
		r1 = c.command(protocol.CMD58, 0, &ocr)
		if r1&protocol.R1ErrorsMask != 0 {
			c.log.Logf("Init() - CMD58 returned 0x%02X during capacity check\n", r1)
			return c.status
		}
		if ocr&protocol.OCRCCS != 0 {
			// SDHC/SDXC read/write commands take block addresses.
			c.blockToAddressShift = 0
		} else {
			// SDSC read/write commands take byte addresses.
			c.blockToAddressShift = 9
		}
		c.version = Version2
	} else {
		// A v1 card only supports standard capacity, byte addressed.
		c.blockToAddressShift = 9
		c.version = Version1
	}

	// 7.2.3 Data Read - SDSC needs a CMD16 to set up 512 bytes/block.
	if c.blockToAddressShift == 9 {
		r1 = c.command(protocol.CMD16, BlockSize, nil)
		if r1&protocol.R1ErrorsMask != 0 {
			c.log.Logf("Init() - CMD16 returned 0x%02X\n", r1)
			return c.status
		}
	}

	// 2. System Features - Default speed mode is 25MHz.
	c.bus.SetFrequency(c.cfg.RunClockHz)

	c.status &^= StatusNoInit
	return c.status
}
