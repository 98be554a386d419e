package sd

import (
	"strings"
	"testing"
)

func TestConstructor(t *testing.T) {
	h := newHarness(t)

	if h.card.Status() != StatusNoInit {
		t.Errorf("Status = %v, want StatusNoInit", h.card.Status())
	}
	if h.card.Version() != VersionUnknown {
		t.Errorf("Version = %v, want VersionUnknown", h.card.Version())
	}

	// Chip select must be parked high before any clocking happens.
	h.expectChipSelect(true)
	if h.bus.settings[0].bytesSentBefore != 0 {
		t.Error("chip select was set after bytes had been sent")
	}
	h.finish()
}

func TestSync(t *testing.T) {
	h := newHarness(t)
	h.skipVerification()

	h.bus.queue(0x00, 0xFF) // prime + not busy
	if result := h.card.Sync(); result != ResOK {
		t.Errorf("Sync = %v, want ResOK", result)
	}

	h.expectSelect()
	h.expectDeselect()
	h.finish()
}

func TestSyncIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.skipVerification()

	for i := 0; i < 2; i++ {
		before := len(h.bus.outbound)
		h.bus.queue(0x00, 0xFF)
		if result := h.card.Sync(); result != ResOK {
			t.Fatalf("Sync #%d = %v, want ResOK", i+1, result)
		}
		// Each sync is exactly one select/deselect pair: 1 priming byte and
		// 1 busy-wait byte plus 1 trailing deselect byte.
		if got := len(h.bus.outbound) - before; got != 3 {
			t.Errorf("Sync #%d clocked %d bytes, want 3", i+1, got)
		}
		h.expectSelect()
		h.expectDeselect()
	}
	h.finish()
}

func TestSyncSelectTimeout(t *testing.T) {
	h := newHarness(t)
	h.skipVerification()

	// The card never releases the bus; the 500ms busy wait must expire.
	h.bus.busyForever = true
	h.bus.millisPerByte = 100

	if result := h.card.Sync(); result != ResError {
		t.Errorf("Sync = %v, want ResError", result)
	}

	log := h.logText()
	if !strings.Contains(log, "waitWhileBusy(500) - Time out") {
		t.Errorf("log missing busy-wait timeout line: %q", log)
	}
	if !strings.Contains(log, "Sync() - Failed waiting for not busy") {
		t.Errorf("log missing sync failure line: %q", log)
	}
	if got := h.card.Counters().MaximumWaitWhileBusyTime; got < 500 {
		t.Errorf("MaximumWaitWhileBusyTime = %d, want >= 500", got)
	}
}

func TestLogAccessors(t *testing.T) {
	h := newHarness(t)

	if !h.card.LogIsEmpty() {
		t.Error("log should start empty")
	}

	// Trigger a logged failure.
	if result := h.card.Read(make([]byte, BlockSize), 0, 1); result != ResNotReady {
		t.Fatalf("Read = %v, want ResNotReady", result)
	}
	if h.card.LogIsEmpty() {
		t.Error("log should hold the failure line")
	}
	if !strings.Contains(h.logText(), "uninitialized") {
		t.Errorf("log = %q", h.logText())
	}

	h.card.ClearLog()
	if !h.card.LogIsEmpty() {
		t.Error("log should be empty after ClearLog")
	}
}
