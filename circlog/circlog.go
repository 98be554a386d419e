// Package circlog provides a bounded circular log for recent diagnostic
// text. When the ring fills, the oldest bytes are silently discarded so the
// log always holds the most recent spew. Losing content is legal; this is
// best-effort post-mortem storage, not an audit trail.
package circlog

import (
	"fmt"
	"io"
)

// Log is a fixed-capacity byte ring with printf-style entry points.
// The ring is byte granular: an overflowing write sacrifices the oldest
// partial line rather than refusing the new one.
type Log struct {
	// One spare slot distinguishes full from empty, so the backing array is
	// capacity+1 bytes and a reader can always recover `capacity` bytes.
	buf     []byte
	lineMax int
	enqueue int
	dequeue int
}

// New returns a log holding up to capacity bytes of recent text. Each Logf
// call renders at most lineMax bytes. Capacity must exceed the line size so
// a single line cannot lap itself.
func New(capacity, lineMax int) *Log {
	if capacity <= lineMax {
		panic("circlog: capacity must exceed maximum line size")
	}
	return &Log{
		buf:     make([]byte, capacity+1),
		lineMax: lineMax,
	}
}

// Logf renders a line into the ring, truncating it to the configured line
// size first. Oldest bytes are discarded if the ring is full.
func (l *Log) Logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if len(line) > l.lineMax {
		line = line[:l.lineMax]
	}
	for i := 0; i < len(line); i++ {
		l.enqueueByte(line[i])
	}
}

func (l *Log) enqueueByte(b byte) {
	l.buf[l.enqueue] = b
	l.enqueue = l.advance(l.enqueue)
	if l.dequeue == l.enqueue {
		// Overflowing, so advance the dequeue index and lose one byte from
		// the oldest part of the log.
		l.dequeue = l.advance(l.dequeue)
	}
}

func (l *Log) advance(index int) int {
	index++
	if index == len(l.buf) {
		index = 0
	}
	return index
}

// IsEmpty reports whether the log holds no text.
func (l *Log) IsEmpty() bool {
	return l.enqueue == l.dequeue
}

// Clear discards all logged text.
func (l *Log) Clear() {
	l.enqueue = 0
	l.dequeue = 0
}

// Dump writes the log contents to sink as one or two contiguous segments,
// depending on whether the ring has wrapped.
func (l *Log) Dump(sink io.Writer) error {
	if l.IsEmpty() {
		return nil
	}
	if l.dequeue > l.enqueue {
		if _, err := sink.Write(l.buf[l.dequeue:]); err != nil {
			return err
		}
		_, err := sink.Write(l.buf[:l.enqueue])
		return err
	}
	_, err := sink.Write(l.buf[l.dequeue:l.enqueue])
	return err
}
