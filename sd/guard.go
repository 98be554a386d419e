package sd

import "sync/atomic"

// flowCount counts flows of execution currently inside the driver. The
// driver supports exactly one; a second concurrent entry would interleave
// wire traffic and corrupt card state, so it traps immediately. The counter
// is process wide, matching the shared bus it protects.
var flowCount int32

// beginFlow marks entry into a public driver operation and returns the
// function that marks the exit, for use as `defer beginFlow()()`.
func beginFlow() func() {
	if atomic.AddInt32(&flowCount, 1) != 1 {
		panic("sd: concurrent entry into single-flow driver")
	}
	return endFlow
}

func endFlow() {
	atomic.AddInt32(&flowCount, -1)
}
