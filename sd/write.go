package sd

import "github.com/adamgreen/SDCard/protocol"

// Write sends count blocks from buf starting at blockNumber. A single block
// uses CMD24; longer writes use ACMD23 + CMD25 terminated by the stop tran
// token. A write-error data response triggers ACMD22 to learn how many
// blocks the card actually committed, so the retry resumes at the right
// block. Every successful write is validated with CMD13.
func (c *Card) Write(buf []byte, blockNumber, count uint32) Result {
	defer beginFlow()()

	origBlockNumber := blockNumber
	origCount := count

	if c.status&StatusNoInit != 0 {
		c.log.Logf("Write(%d,%d) - Attempt to write uninitialized drive\n", origBlockNumber, origCount)
		return ResNotReady
	}
	if count == 0 {
		c.log.Logf("Write(%d,%d) - Attempt to write 0 blocks\n", origBlockNumber, origCount)
		return ResParamError
	}
	if uint32(len(buf)) < count*BlockSize {
		c.log.Logf("Write(%d,%d) - Buffer too small (%d bytes)\n", origBlockNumber, origCount, len(buf))
		return ResParamError
	}

	// 7.2.4 Data Write - Overview of the single/multi block write process.
	for retry := uint32(1); retry <= c.cfg.BlockRetryLimit; retry++ {
		blockAddress := blockNumber << c.blockToAddressShift
		r1 := byte(0xFF)

		if origCount == 1 {
			if !c.selectCard() {
				c.log.Logf("Write(%d,%d) - Select timed out\n", origBlockNumber, origCount)
				return ResError
			}

			r1 = c.sendCommandAndGetResponse(protocol.CMD24, blockAddress, nil)
			if r1 != 0 {
				c.log.Logf("Write(%d,%d) - CMD24 returned 0x%02X\n", origBlockNumber, origCount, r1)
				c.deselectCard()
				return ResError
			}

			dataResponse := c.transmitDataBlock(protocol.TokenBlockStart, buf[:BlockSize])
			if dataResponse != protocol.DataResponseAccepted {
				c.log.Logf("Write(%d,%d) - transmitDataBlock failed\n", origBlockNumber, origCount)
				if retry > c.counters.MaximumWriteRetryCount {
					c.counters.MaximumWriteRetryCount = retry
				}
				c.deselectCard()
				continue
			}
		} else {
			// 4.3.4 Data Write - ACMD23 before CMD25 tells the card how
			// many blocks to pre-erase for a faster multi-block write. It
			// is advisory; errors are ignored.
			c.command(protocol.ACMD23, count&0x07FFFF, nil)

			if !c.selectCard() {
				c.log.Logf("Write(%d,%d) - Select timed out\n", origBlockNumber, origCount)
				return ResError
			}

			r1 = c.sendCommandAndGetResponse(protocol.CMD25, blockAddress, nil)
			if r1 != 0 {
				c.log.Logf("Write(%d,%d) - CMD25 returned 0x%02X\n", origBlockNumber, origCount, r1)
				c.deselectCard()
				return ResError
			}

			startBuf := buf
			startBlockNumber := blockNumber
			startCount := count
			for count > 0 {
				dataResponse := c.transmitDataBlock(protocol.TokenMultiBlockStart, buf[:BlockSize])
				if dataResponse != protocol.DataResponseAccepted {
					c.log.Logf("Write(%d,%d) - transmitDataBlock failed. block=%d\n",
						origBlockNumber, origCount, blockNumber)
					if retry > c.counters.MaximumWriteRetryCount {
						c.counters.MaximumWriteRetryCount = retry
					}

					// 7.3.3.1 Data Response Token - Stop the write with
					// CMD12 after an error data response.
					c.deselectCard()
					c.command(protocol.CMD12, 0, nil)

					if dataResponse == protocol.DataResponseWriteError {
						// ACMD22 reports how many blocks were written
						// without error, so the retry can resume exactly
						// where the card stopped.
						var wellWritten [4]byte
						result := c.sendCommandAndReceiveDataBlock(protocol.ACMD22, 0, wellWritten[:])
						if result != ResOK {
							c.log.Logf("Write(%d,%d) - Failed to retrieve written block count\n",
								origBlockNumber, origCount)
							return result
						}

						blocksWritten := uint32(wellWritten[0])<<24 |
							uint32(wellWritten[1])<<16 |
							uint32(wellWritten[2])<<8 |
							uint32(wellWritten[3])

						// An implausible count means no blocks made it.
						if blocksWritten > startCount {
							blocksWritten = 0
						}

						buf = startBuf[BlockSize*blocksWritten:]
						blockNumber = startBlockNumber + blocksWritten
						count = startCount - blocksWritten
					}

					// Let the outer loop retry the remaining blocks.
					break
				}

				// Reset the retry budget once any block makes it through;
				// only repeated failures of a single block should exhaust
				// it.
				retry = 1
				buf = buf[BlockSize:]
				blockNumber++
				count--
			}

			if count == 0 {
				c.transmitDataBlock(protocol.TokenMultiBlockStop, nil)
			} else {
				continue
			}
		}

		// 7.2.4 Data Write - Validate the write by reading card status.
		var cardStatus uint32
		c.deselectCard()
		r1 = c.command(protocol.CMD13, 0, &cardStatus)
		if r1 != 0 {
			c.log.Logf("Write(%d,%d) - CMD13 failed. r1=0x%02X\n", origBlockNumber, origCount, r1)
			return ResError
		}
		if cardStatus != 0 {
			c.log.Logf("Write(%d,%d) - CMD13 failed. Status=0x%02X\n", origBlockNumber, origCount, cardStatus)
			return ResError
		}

		return ResOK
	}

	return ResError
}

// transmitDataBlock waits out any previous write, then sends the token,
// payload, and CRC16, returning the card's 5-bit data response. The stop
// token carries no payload and gets no response.
func (c *Card) transmitDataBlock(token byte, buf []byte) byte {
	// 7.2.4 Data Write - A previous block write may still be in progress.
	if !c.waitWhileBusy(c.cfg.SelectBusyTimeoutMillis) {
		c.counters.TransmitTimeouts++
		c.log.Logf("transmitDataBlock(%02X,%d) - Time out after %dms\n",
			token, len(buf), c.cfg.SelectBusyTimeoutMillis)
		return protocol.DataResponseUnknownError
	}

	// 7.3.3.2 Start Block Tokens and Stop Tran Token.
	c.bus.Send(token)

	if token == protocol.TokenMultiBlockStop {
		if len(buf) != 0 {
			panic("sd: stop tran token carries no payload")
		}
		return protocol.DataResponseAccepted
	}

	if err := c.bus.Transfer(buf, nil); err != nil {
		c.counters.TransmitTransferFailures++
		c.log.Logf("transmitDataBlock(%02X,%d) - Transfer failed: %v\n", token, len(buf), err)
		return protocol.DataResponseUnknownError
	}

	crc := protocol.CRC16(buf)
	c.bus.Send(byte(crc >> 8))
	c.bus.Send(byte(crc))

	// 7.3.3.1 Data Response Token - 0x05 in the low 5 bits means the card
	// accepted the block.
	dataResponse := c.bus.Exchange(0xFF)
	if dataResponse&protocol.DataResponseMask != protocol.DataResponseAccepted {
		c.counters.TransmitResponseErrors++
		c.log.Logf("transmitDataBlock(%02X,%d) - Data Response=0x%02X\n", token, len(buf), dataResponse)
	}
	return dataResponse & protocol.DataResponseMask
}
