package sd

import "github.com/adamgreen/SDCard/protocol"

// Read fills buf with count blocks starting at blockNumber. A single block
// uses CMD17; longer reads use CMD18 terminated by CMD12. Failed blocks are
// retried from the exact block that failed, with the retry budget applying
// per block.
func (c *Card) Read(buf []byte, blockNumber, count uint32) Result {
	defer beginFlow()()

	origBlockNumber := blockNumber
	origCount := count

	if c.status&StatusNoInit != 0 {
		c.log.Logf("Read(%d,%d) - Attempt to read uninitialized drive\n", origBlockNumber, origCount)
		return ResNotReady
	}
	if count == 0 {
		c.log.Logf("Read(%d,%d) - Attempt to read 0 blocks\n", origBlockNumber, origCount)
		return ResParamError
	}
	if uint32(len(buf)) < count*BlockSize {
		c.log.Logf("Read(%d,%d) - Buffer too small (%d bytes)\n", origBlockNumber, origCount, len(buf))
		return ResParamError
	}

	// 7.2.3 Data Read - Overview of the single/multi block read process.
	if count == 1 {
		// 7.3.1.3 note 10: SDSC takes byte addresses, high capacity cards
		// take block numbers.
		blockAddress := blockNumber << c.blockToAddressShift
		result := c.sendCommandAndReceiveDataBlock(protocol.CMD17, blockAddress, buf[:BlockSize])
		if result != ResOK {
			c.log.Logf("Read(%d,%d) - Read failed\n", origBlockNumber, origCount)
		}
		return result
	}

	for retry := uint32(1); retry <= c.cfg.BlockRetryLimit; retry++ {
		blockAddress := blockNumber << c.blockToAddressShift

		if !c.selectCard() {
			// No deselect needed when selectCard itself failed.
			c.log.Logf("Read(%d,%d) - Select timed out\n", origBlockNumber, origCount)
			return ResError
		}

		r1 := c.sendCommandAndGetResponse(protocol.CMD18, blockAddress, nil)
		if r1 != 0 {
			c.log.Logf("Read(%d,%d) - CMD18 returned 0x%02X\n", origBlockNumber, origCount, r1)
			c.deselectCard()
			return ResError
		}

		for count > 0 {
			if !c.receiveDataBlock(buf[:BlockSize]) {
				c.log.Logf("Read(%d,%d) - receiveDataBlock failed. block=%d\n",
					origBlockNumber, origCount, blockNumber)
				if retry > c.counters.MaximumReadRetryCount {
					c.counters.MaximumReadRetryCount = retry
				}
				// Let the outer loop retry from this block.
				break
			}

			// Reset the retry budget once any block makes it through; only
			// repeated failures of a single block should exhaust it.
			retry = 1
			buf = buf[BlockSize:]
			blockNumber++
			count--
		}

		// CMD12 stops the multi-block read, error or not.
		r1 = c.sendCommandAndGetResponse(protocol.CMD12, 0, nil)
		c.deselectCard()
		if r1 != 0 {
			c.log.Logf("Read(%d,%d) - CMD12 returned 0x%02X\n", origBlockNumber, origCount, r1)
			return ResError
		}

		if count == 0 {
			return ResOK
		}
	}

	return ResError
}

// sendCommandAndReceiveDataBlock runs a command that answers with a data
// block (CMD17, CMD9, CMD10, ACMD22), retrying the whole
// select-command-receive sequence on block failures.
func (c *Card) sendCommandAndReceiveDataBlock(index byte, argument uint32, buf []byte) Result {
	result := ResError

	retry := uint32(1)
	for ; retry <= c.cfg.BlockRetryLimit; retry++ {
		if !c.selectCard() {
			c.log.Logf("sendCommandAndReceiveDataBlock(%s,%X,%d) - Select timed out\n",
				protocol.CommandName(index), argument, len(buf))
			return ResError
		}

		r1 := c.sendCommandAndGetResponse(index, argument, nil)
		if r1 != 0 {
			c.log.Logf("sendCommandAndReceiveDataBlock(%s,%X,%d) - %s returned 0x%02X\n",
				protocol.CommandName(index), argument, len(buf), protocol.CommandName(index), r1)
			break
		}
		if !c.receiveDataBlock(buf) {
			c.log.Logf("sendCommandAndReceiveDataBlock(%s,%X,%d) - receiveDataBlock failed\n",
				protocol.CommandName(index), argument, len(buf))
			if retry > c.counters.MaximumReadRetryCount {
				c.counters.MaximumReadRetryCount = retry
			}
			c.deselectCard()
			continue
		}

		result = ResOK
		break
	}
	c.deselectCard()

	return result
}

// receiveDataBlock waits for the 0xFE start token, bulk-transfers the block
// payload in, and verifies the trailing CRC16.
func (c *Card) receiveDataBlock(buf []byte) bool {
	// 4.3.3 Data Read - The DAT lines idle high between blocks.
	// 4.6.2.1 Read - 100ms is the minimum read timeout; allow 500ms.
	var b byte
	var elapsed uint32
	start := c.nowMillis()
	for {
		b = c.bus.Exchange(0xFF)
		elapsed = c.nowMillis() - start
		if b != 0xFF || elapsed >= c.cfg.ReceiveBlockTimeoutMillis {
			break
		}
	}

	if elapsed > c.counters.MaximumReceiveDataBlockWaitTime {
		c.counters.MaximumReceiveDataBlockWaitTime = elapsed
	}

	if b == 0xFF {
		c.counters.ReceiveTimeouts++
		c.log.Logf("receiveDataBlock(%d) - Time out after %dms\n", len(buf), c.cfg.ReceiveBlockTimeoutMillis)
		return false
	}

	// 7.3.3.2 Start Block Tokens - 0xFE starts single and multiple reads.
	if b != protocol.TokenBlockStart {
		c.counters.ReceiveBadTokens++
		c.log.Logf("receiveDataBlock(%d) - Expected 0xFE start block token. Response=0x%02X\n",
			len(buf), b)
		return false
	}

	fill := [1]byte{0xFF}
	if err := c.bus.Transfer(fill[:], buf); err != nil {
		c.counters.ReceiveTransferFailures++
		c.log.Logf("receiveDataBlock(%d) - Transfer failed: %v\n", len(buf), err)
		return false
	}

	crcExpected := uint16(c.bus.Exchange(0xFF))<<8 | uint16(c.bus.Exchange(0xFF))
	crcActual := protocol.CRC16(buf)
	if crcActual != crcExpected {
		c.counters.ReceiveCRCErrors++
		c.log.Logf("receiveDataBlock(%d) - Invalid CRC. Expected=0x%04X Actual=0x%04X\n",
			len(buf), crcExpected, crcActual)
		return false
	}

	return true
}
