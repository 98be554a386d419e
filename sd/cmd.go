package sd

import "github.com/adamgreen/SDCard/protocol"

// command runs one complete command transaction: select the card, send the
// packet and collect the response, deselect. response receives the extra R7,
// R3, or R2 payload for the commands that return one.
func (c *Card) command(index byte, argument uint32, response *uint32) byte {
	// 7.2 SPI Bus Protocol - Chip select must be asserted low before the
	// command goes out.
	if !c.selectCard() {
		c.log.Logf("command(%s,%X) - Select timed out\n", protocol.CommandName(index), argument)
		return 0xFF
	}

	r1 := c.sendCommandAndGetResponse(index, argument, response)

	c.deselectCard()
	return r1
}

// selectCard asserts chip select, primes the bus, and waits for the card to
// leave the busy state. On timeout the card is deselected again and false
// returned.
func (c *Card) selectCard() bool {
	c.bus.SetChipSelect(false)

	// Exchange 0xFF to prime the card for the next command. The diagnostic
	// counter tracks whether this priming exchange was ever the one that
	// mattered: it only was if it read 0xFF while the following read would
	// not have.
	response := c.bus.Exchange(0xFF)
	if response == 0xFF && c.bus.Exchange(0xFF) != 0xFF {
		c.counters.SelectFirstExchangeRequired++
	}

	if !c.waitWhileBusy(c.cfg.SelectBusyTimeoutMillis) {
		c.log.Logf("selectCard() - %d msec time out\n", c.cfg.SelectBusyTimeoutMillis)
		c.deselectCard()
		return false
	}
	return true
}

// deselectCard deasserts chip select and sends the 8 additional clock edges
// the spec requires after completing a transaction (4.4 Clock Control).
func (c *Card) deselectCard() {
	c.bus.SetChipSelect(true)
	c.bus.Send(0xFF)
}

// waitWhileBusy exchanges 0xFF until the card stops holding the bus low.
// A busy card returns anything but 0xFF (7.2.4 Data Write).
func (c *Card) waitWhileBusy(timeoutMillis uint32) bool {
	var response byte
	var elapsed uint32
	start := c.nowMillis()
	for {
		response = c.bus.Exchange(0xFF)
		elapsed = c.nowMillis() - start
		if response == 0xFF || elapsed >= timeoutMillis {
			break
		}
	}

	if elapsed > c.counters.MaximumWaitWhileBusyTime {
		c.counters.MaximumWaitWhileBusyTime = elapsed
	}

	if response != 0xFF {
		c.log.Logf("waitWhileBusy(%d) - Time out. Response=0x%02X\n", timeoutMillis, response)
		return false
	}
	return true
}

// sendCommandAndGetResponse frames and transmits one command packet and
// polls out its R1 response, retrying on command CRC errors. The caller has
// already selected the card. Application commands recurse once to emit the
// CMD55 prefix, cycling chip select between the two packets.
func (c *Card) sendCommandAndGetResponse(index byte, argument uint32, response *uint32) byte {
	r1 := byte(0xFF)
	idx := index
	retry := uint32(1)

	for ; retry <= c.cfg.CRCRetryLimit; retry++ {
		if idx&protocol.ACmdBit != 0 {
			r1 = c.sendCommandAndGetResponse(protocol.CMD55, 0, nil)
			if r1&protocol.R1ErrorsMask != 0 {
				c.log.Logf("sendCommandAndGetResponse(%s,%X) - CMD55 prefix returned 0x%02X\n",
					protocol.CommandName(index), argument, r1)
				return r1
			}

			// Cycle the chip select signal between CMD55 and the
			// application command itself.
			c.deselectCard()
			if !c.selectCard() {
				c.log.Logf("sendCommandAndGetResponse(%s,%X) - CMD55 prefix select timed out\n",
					protocol.CommandName(index), argument)
				return 0xFF
			}

			idx &^= byte(protocol.ACmdBit)
		}

		// 7.3.1.1 Command Format - 48-bit packet with CRC always enabled.
		var packet [protocol.CommandPacketLength]byte
		protocol.BuildCommand(&packet, idx, argument)
		for _, b := range packet {
			c.bus.Send(b)
		}

		// Discard the extra padding byte after CMD12. If it carried error
		// bits with the start bit clear, the padding really was needed.
		if idx == protocol.CMD12 {
			r1 = c.bus.Exchange(0xFF)
			if r1&protocol.R1StartBit == 0 && r1&protocol.R1ErrorsMask != 0 {
				c.counters.CMD12PaddingByteRequired++
			}
		}

		// 7.3.2.1 Format R1 - Poll until a byte with the start bit clear
		// arrives.
		remaining := c.cfg.R1PollLimit
		for {
			r1 = c.bus.Exchange(0xFF)
			if r1&protocol.R1StartBit == 0 {
				break
			}
			remaining--
			if remaining == 0 {
				break
			}
		}
		iterations := c.cfg.R1PollLimit - remaining
		if iterations > c.counters.MaximumWaitForR1ResponseLoopCount {
			c.counters.MaximumWaitForR1ResponseLoopCount = iterations
		}

		if r1&protocol.R1StartBit != 0 {
			c.log.Logf("sendCommandAndGetResponse(%s,%X) - Timed out waiting for valid R1 response. r1=0x%02X\n",
				protocol.CommandName(index), argument, r1)
			return 0xFF
		} else if r1&protocol.R1CRCError != 0 {
			c.counters.CmdCRCErrors++
			if retry > c.counters.MaximumCRCRetryCount {
				c.counters.MaximumCRCRetryCount = retry
			}
			continue
		} else if r1&protocol.R1ErrorsMask != 0 {
			// Not logged here: callers either handle the error bits or log
			// them with more context.
			return r1
		}

		switch idx {
		case protocol.CMD8, protocol.CMD58:
			// These commands return a longer R7/R3 response.
			value := uint32(c.bus.Exchange(0xFF)) << 24
			value |= uint32(c.bus.Exchange(0xFF)) << 16
			value |= uint32(c.bus.Exchange(0xFF)) << 8
			value |= uint32(c.bus.Exchange(0xFF))
			*response = value
		case protocol.CMD13:
			// This command returns one extra byte as the R2 response.
			*response = uint32(c.bus.Exchange(0xFF))
		}

		return r1
	}

	c.log.Logf("sendCommandAndGetResponse(%s,%X) - Failed CRC check %d times\n",
		protocol.CommandName(index), argument, retry-1)
	return r1
}
