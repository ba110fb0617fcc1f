package bridge

import (
	"sync"
	"testing"
	"time"
)

// clickSink collects classified button events.
type clickSink struct {
	mu     sync.Mutex
	clicks []ClickType
}

func (s *clickSink) record(_ *Device, _ Button, click ClickType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, click)
}

func (s *clickSink) all() []ClickType {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]ClickType, len(s.clicks))
	copy(result, s.clicks)
	return result
}

// newTestTracker returns a tracker on a controllable clock. Tests step
// the clock and call evaluate directly instead of running the watcher.
func newTestTracker() (*ButtonTracker, *clickSink, *time.Time) {
	sink := &clickSink{}
	tracker := NewButtonTracker(sink.record, nil)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return clock }
	return tracker, sink, &clock
}

func testRemote() (*Device, Button) {
	button := Button{ID: "b1", Number: 0, Slug: "on"}
	return &Device{
		ID:       "pico-1",
		Name:     "Pico",
		NameSlug: "pico",
		AreaSlug: "den",
		Type:     DeviceRemote,
		Buttons:  []Button{button},
	}, button
}

// ============================================================
// Click classification
// ============================================================

func TestSingleClick(t *testing.T) {
	tracker, sink, clock := newTestTracker()
	device, button := testRemote()

	tracker.Record(device, button, ButtonPress)
	*clock = clock.Add(100 * time.Millisecond)
	tracker.Record(device, button, ButtonRelease)

	// Inside the double-click window nothing is classified yet.
	tracker.evaluate(*clock)
	if got := sink.all(); len(got) != 0 {
		t.Fatalf("events before window = %v, want none", got)
	}

	*clock = clock.Add(doubleClickWindow)
	tracker.evaluate(*clock)

	if got := sink.all(); len(got) != 1 || got[0] != ClickSingle {
		t.Errorf("events = %v, want [single]", got)
	}
	if tracker.Active() != 0 {
		t.Errorf("Active() = %d, want 0", tracker.Active())
	}
}

func TestDoubleClick(t *testing.T) {
	tracker, sink, clock := newTestTracker()
	device, button := testRemote()

	tracker.Record(device, button, ButtonPress)
	*clock = clock.Add(80 * time.Millisecond)
	tracker.Record(device, button, ButtonRelease)
	*clock = clock.Add(80 * time.Millisecond)
	tracker.Record(device, button, ButtonPress)
	*clock = clock.Add(80 * time.Millisecond)
	tracker.Record(device, button, ButtonRelease)

	*clock = clock.Add(doubleClickWindow)
	tracker.evaluate(*clock)

	if got := sink.all(); len(got) != 1 || got[0] != ClickDouble {
		t.Errorf("events = %v, want [double]", got)
	}
	if tracker.Active() != 0 {
		t.Errorf("Active() = %d, want 0", tracker.Active())
	}
}

func TestLongPress(t *testing.T) {
	tracker, sink, clock := newTestTracker()
	device, button := testRemote()

	tracker.Record(device, button, ButtonPress)

	// Held past the double-click window: long reported each evaluation.
	*clock = clock.Add(doubleClickWindow + 50*time.Millisecond)
	tracker.evaluate(*clock)
	*clock = clock.Add(watcherInterval)
	tracker.evaluate(*clock)

	got := sink.all()
	if len(got) != 2 || got[0] != ClickLong || got[1] != ClickLong {
		t.Fatalf("events while held = %v, want [long long]", got)
	}

	// Release ends the hold as long_finished, not single.
	tracker.Record(device, button, ButtonRelease)
	*clock = clock.Add(watcherInterval)
	tracker.evaluate(*clock)

	got = sink.all()
	if len(got) != 3 || got[2] != ClickLongFinished {
		t.Errorf("events after release = %v, want long_finished last", got)
	}
	if tracker.Active() != 0 {
		t.Errorf("Active() = %d, want 0", tracker.Active())
	}
}

// ============================================================
// Invalid and expired sequences
// ============================================================

func TestStrayReleaseIgnored(t *testing.T) {
	tracker, sink, clock := newTestTracker()
	device, button := testRemote()

	tracker.Record(device, button, ButtonRelease)
	*clock = clock.Add(doubleClickWindow)
	tracker.evaluate(*clock)

	if got := sink.all(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
	if tracker.Active() != 0 {
		t.Errorf("Active() = %d, want 0", tracker.Active())
	}
}

func TestOutOfOrderPressDropped(t *testing.T) {
	tracker, sink, clock := newTestTracker()
	device, button := testRemote()

	tracker.Record(device, button, ButtonPress)
	// A second press while awaiting release is out of order: dropped
	// without disturbing the sequence.
	tracker.Record(device, button, ButtonPress)
	*clock = clock.Add(100 * time.Millisecond)
	tracker.Record(device, button, ButtonRelease)

	*clock = clock.Add(doubleClickWindow)
	tracker.evaluate(*clock)

	if got := sink.all(); len(got) != 1 || got[0] != ClickSingle {
		t.Errorf("events = %v, want [single]", got)
	}
}

func TestTrackingWindowExpiry(t *testing.T) {
	tracker, sink, clock := newTestTracker()
	device, button := testRemote()

	// Press, release, then nothing: classified as single after the
	// window, never abandoned.
	tracker.Record(device, button, ButtonPress)
	tracker.Record(device, button, ButtonRelease)

	// A held press past the full tracking window is abandoned.
	other := &Device{ID: "pico-2", Name: "Other Pico", NameSlug: "other-pico", AreaSlug: "den"}
	tracker.Record(other, button, ButtonPress)

	*clock = clock.Add(buttonTrackingWindow + time.Second)
	tracker.evaluate(*clock)

	if tracker.Active() != 0 {
		t.Errorf("Active() = %d, want 0", tracker.Active())
	}

	// The expired hold still reported its final long, the completed
	// sequence its single.
	var singles, longs int
	for _, click := range sink.all() {
		switch click {
		case ClickSingle:
			singles++
		case ClickLong:
			longs++
		}
	}
	if singles != 1 {
		t.Errorf("single events = %d, want 1", singles)
	}
	if longs != 1 {
		t.Errorf("long events = %d, want 1", longs)
	}
}

func TestNewSequenceAfterExpiry(t *testing.T) {
	tracker, sink, clock := newTestTracker()
	device, button := testRemote()

	tracker.Record(device, button, ButtonPress)
	*clock = clock.Add(buttonTrackingWindow + time.Second)

	// The stale history is expired, so this press starts fresh.
	tracker.Record(device, button, ButtonPress)
	*clock = clock.Add(100 * time.Millisecond)
	tracker.Record(device, button, ButtonRelease)

	*clock = clock.Add(doubleClickWindow)
	tracker.evaluate(*clock)

	if got := sink.all(); len(got) != 1 || got[0] != ClickSingle {
		t.Errorf("events = %v, want [single]", got)
	}
}

// ============================================================
// Per-remote tracking
// ============================================================

func TestRemotesTrackedIndependently(t *testing.T) {
	tracker, sink, clock := newTestTracker()
	deviceA, button := testRemote()
	deviceB := &Device{ID: "pico-2", Name: "Den Pico", NameSlug: "den-pico", AreaSlug: "den"}

	tracker.Record(deviceA, button, ButtonPress)
	tracker.Record(deviceB, button, ButtonPress)
	if tracker.Active() != 2 {
		t.Fatalf("Active() = %d, want 2", tracker.Active())
	}

	tracker.Record(deviceA, button, ButtonRelease)
	tracker.Record(deviceB, button, ButtonRelease)

	*clock = clock.Add(doubleClickWindow)
	tracker.evaluate(*clock)

	if got := sink.all(); len(got) != 2 {
		t.Errorf("events = %v, want two singles", got)
	}
}
