package sd

// Counters holds the diagnostic maximums and totals recorded while the
// driver runs. They are monotonic and never cleared by normal I/O; the
// maximums answer "how close did we get to a timeout or retry limit" and
// the totals answer "how often did each recoverable fault fire".
type Counters struct {
	// SelectFirstExchangeRequired counts how often the priming exchange in
	// selectCard was actually needed before the busy wait.
	SelectFirstExchangeRequired uint32
	// MaximumWaitWhileBusyTime is the longest busy wait observed, in ms.
	MaximumWaitWhileBusyTime uint32
	// MaximumWaitForR1ResponseLoopCount is the most R1 polls ever answered
	// without a valid response, before a valid one arrived or the poll limit
	// ran out.
	MaximumWaitForR1ResponseLoopCount uint32
	// MaximumCRCRetryCount is the most retries of one command packet due to
	// CRC errors.
	MaximumCRCRetryCount uint32
	// MaximumACMD41LoopTime is the longest ACMD41 took to leave the idle
	// state, in ms.
	MaximumACMD41LoopTime uint32
	// MaximumReceiveDataBlockWaitTime is the longest wait for a data block
	// start token, in ms.
	MaximumReceiveDataBlockWaitTime uint32
	// MaximumReadRetryCount is the most retries of a single block read.
	MaximumReadRetryCount uint32
	// CMD12PaddingByteRequired counts padding bytes after CMD12 that
	// carried error bits and were therefore probably required.
	CMD12PaddingByteRequired uint32
	// MaximumWriteRetryCount is the most retries of a single block write.
	MaximumWriteRetryCount uint32

	// CmdCRCErrors counts command packets the card rejected on CRC.
	CmdCRCErrors uint32
	// ReceiveTimeouts counts start token waits that timed out.
	ReceiveTimeouts uint32
	// ReceiveBadTokens counts unexpected bytes where a start token was due.
	ReceiveBadTokens uint32
	// ReceiveTransferFailures counts failed bulk transfers while reading a
	// data block.
	ReceiveTransferFailures uint32
	// ReceiveCRCErrors counts data blocks that failed their CRC16.
	ReceiveCRCErrors uint32
	// TransmitTimeouts counts writes that timed out waiting for not busy.
	TransmitTimeouts uint32
	// TransmitTransferFailures counts failed bulk transfers while writing a
	// data block.
	TransmitTransferFailures uint32
	// TransmitResponseErrors counts error data-response tokens from the
	// card.
	TransmitResponseErrors uint32
}

// Counters returns a snapshot of the diagnostic counters.
func (c *Card) Counters() Counters {
	return c.counters
}
