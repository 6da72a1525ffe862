package scan

import (
	"testing"
	"time"
)

func TestDeduplicator_RapidRefire_SuppressesSecondScan(t *testing.T) {
	d := NewDeduplicator(300 * time.Millisecond)
	base := time.Now()

	if _, ok := d.Accept(`{"facultyNumber":"F100"}`, base); !ok {
		t.Fatal("first scan must be accepted")
	}
	if _, ok := d.Accept(`{"facultyNumber":"F100"}`, base.Add(50*time.Millisecond)); ok {
		t.Error("scan 50ms after an accepted one must be suppressed")
	}
}

func TestDeduplicator_ScansOutsideWindow_BothAccepted(t *testing.T) {
	d := NewDeduplicator(300 * time.Millisecond)
	base := time.Now()

	if _, ok := d.Accept(`{"facultyNumber":"F100"}`, base); !ok {
		t.Fatal("first scan must be accepted")
	}
	if _, ok := d.Accept(`{"facultyNumber":"F100"}`, base.Add(400*time.Millisecond)); !ok {
		t.Error("scan 400ms after an accepted one must be accepted")
	}
}

func TestDeduplicator_WindowAnchorsOnAcceptedScan(t *testing.T) {
	d := NewDeduplicator(300 * time.Millisecond)
	base := time.Now()

	d.Accept("a", base)
	// Suppressed scans must not extend the window.
	d.Accept("b", base.Add(200*time.Millisecond))
	if _, ok := d.Accept("c", base.Add(350*time.Millisecond)); !ok {
		t.Error("window must be measured from the accepted scan, not the suppressed one")
	}
}

func TestDeduplicator_DifferentPayloadsInsideWindow_StillSuppressed(t *testing.T) {
	d := NewDeduplicator(300 * time.Millisecond)
	base := time.Now()

	d.Accept(`{"facultyNumber":"F100"}`, base)
	if _, ok := d.Accept(`{"facultyNumber":"F200"}`, base.Add(100*time.Millisecond)); ok {
		t.Error("the gate is global to the session, not per payload")
	}
}

func TestDeduplicator_Reset_ReopensGate(t *testing.T) {
	d := NewDeduplicator(300 * time.Millisecond)
	base := time.Now()

	d.Accept("a", base)
	d.Reset()
	if _, ok := d.Accept("b", base.Add(10*time.Millisecond)); !ok {
		t.Error("reset must reopen the gate immediately")
	}
}
