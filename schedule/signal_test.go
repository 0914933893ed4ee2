package schedule

import (
	"sync/atomic"
	"testing"
)

// TestManualSignal_SubscribeEmit verifies delivery and unsubscription.
func TestManualSignal_SubscribeEmit(t *testing.T) {
	sig := NewManualSignal()

	var a, b atomic.Int32
	unsubA := sig.Subscribe(func() { a.Add(1) })
	sig.Subscribe(func() { b.Add(1) })

	sig.Emit()
	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("a = %d, b = %d, want 1 and 1", a.Load(), b.Load())
	}

	unsubA()
	unsubA() // idempotent
	sig.Emit()
	if a.Load() != 1 {
		t.Errorf("a = %d after unsubscribe, want 1", a.Load())
	}
	if b.Load() != 2 {
		t.Errorf("b = %d, want 2", b.Load())
	}
}

// TestManualOnline_ReconnectEmits verifies the offline-to-online transition
// emits exactly once.
func TestManualOnline_ReconnectEmits(t *testing.T) {
	mon := NewManualOnline()

	var reconnects atomic.Int32
	mon.Subscribe(func() { reconnects.Add(1) })

	if !mon.IsOnline() {
		t.Fatal("monitor should start online")
	}

	mon.SetOnline(true) // online -> online: no emit
	if reconnects.Load() != 0 {
		t.Fatalf("reconnects = %d, want 0", reconnects.Load())
	}

	mon.SetOnline(false)
	if mon.IsOnline() {
		t.Fatal("SetOnline(false) not reflected")
	}
	if reconnects.Load() != 0 {
		t.Fatalf("going offline emitted a reconnect")
	}

	mon.SetOnline(true)
	if reconnects.Load() != 1 {
		t.Errorf("reconnects = %d, want 1", reconnects.Load())
	}
}

// TestAlwaysOnline verifies the default monitor.
func TestAlwaysOnline(t *testing.T) {
	if !AlwaysOnline().IsOnline() {
		t.Error("AlwaysOnline reported offline")
	}
}
