package shutdown

import (
	"testing"
	"time"
)

func TestFlagTriggerIsMonotonic(t *testing.T) {
	f := &Flag{ch: make(chan struct{})}
	if f.IsSet() {
		t.Fatal("expected flag unset initially")
	}

	f.Trigger()
	f.Trigger() // must not panic on double-trigger

	if !f.IsSet() {
		t.Fatal("expected flag set after Trigger")
	}

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() channel did not close")
	}
}

func TestFlagDoneBlocksUntilTriggered(t *testing.T) {
	f := &Flag{ch: make(chan struct{})}

	select {
	case <-f.Done():
		t.Fatal("Done() closed before Trigger")
	default:
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Trigger()
	}()

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() never closed")
	}
}
