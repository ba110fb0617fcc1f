package bridge

import (
	"context"
	"sync"
	"time"
)

// Button press classification windows.
const (
	// doubleClickWindow is how long after the first press a second
	// press may start a double click.
	doubleClickWindow = 500 * time.Millisecond

	// buttonTrackingWindow bounds one tracking session; sequences that
	// reach no terminal state by then are abandoned.
	buttonTrackingWindow = 5 * time.Second

	// watcherInterval is how often tracked sequences are evaluated.
	watcherInterval = 250 * time.Millisecond
)

// ClickType is the classification of a completed or ongoing press
// sequence. The values are the MQTT event payloads.
type ClickType string

const (
	ClickSingle       ClickType = "single"
	ClickDouble       ClickType = "double"
	ClickLong         ClickType = "long"
	ClickLongFinished ClickType = "long_finished"
)

// buttonState is the position in one press sequence.
type buttonState int

const (
	stateNotPressed buttonState = iota
	stateFirstPressAwaitingRelease
	stateFirstPressAndFirstRelease
	stateSecondPressAwaitingRelease
	stateDoublePressFinished
)

func (s buttonState) awaitingPress() bool {
	return s == stateNotPressed || s == stateFirstPressAndFirstRelease
}

func (s buttonState) awaitingRelease() bool {
	return s == stateFirstPressAwaitingRelease || s == stateSecondPressAwaitingRelease
}

// validAction reports whether the action is in order for this state.
func (s buttonState) validAction(action ButtonAction) bool {
	if action == ButtonPress {
		return s.awaitingPress()
	}
	return s.awaitingRelease()
}

// next advances the sequence by one step.
func (s buttonState) next() buttonState {
	return s + 1
}

// ButtonEventSink receives classified button events.
type ButtonEventSink func(device *Device, button Button, click ClickType)

// buttonHistory tracks one in-flight press sequence on a remote.
type buttonHistory struct {
	device *Device
	button Button

	state     buttonState
	startedAt time.Time
	deadline  time.Time

	// longReported distinguishes a release that ends a long press from
	// one that completes a single click.
	longReported bool
}

// ButtonTracker classifies raw press/release notifications into single,
// double, long, and long-finished events.
//
// Tracking is keyed per remote: a remote has one in-flight sequence at
// a time, and a press on any of its buttons while a sequence is live
// joins that sequence. A watcher loop evaluates sequences every 250ms;
// a second press within 500ms of the first makes a double click, a
// press still held past the window is a long press (reported each
// evaluation until released), and sequences are abandoned after 5s
// without a terminal state. Out-of-order actions are dropped.
type ButtonTracker struct {
	mu        sync.Mutex
	histories map[string]*buttonHistory

	emit   ButtonEventSink
	logger Logger
	now    func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewButtonTracker creates a tracker delivering classified events to sink.
func NewButtonTracker(sink ButtonEventSink, logger Logger) *ButtonTracker {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ButtonTracker{
		histories: make(map[string]*buttonHistory),
		emit:      sink,
		logger:    logger,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start runs the watcher loop until ctx is cancelled or Stop is called.
func (t *ButtonTracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ticker := time.NewTicker(watcherInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case <-ticker.C:
				t.evaluate(t.now())
			}
		}
	}()
}

// Stop shuts down the watcher loop. Safe to call multiple times.
func (t *ButtonTracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.wg.Wait()
	})
}

// Record feeds one raw button action into the tracker.
func (t *ButtonTracker) Record(device *Device, button Button, action ButtonAction) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	history := t.histories[device.ID]
	if history == nil || now.After(history.deadline) {
		if action != ButtonPress {
			// A stray release with nothing being tracked.
			t.logger.Debug("dropping release with no tracked press",
				"device", device.Name, "button", button.Slug)
			delete(t.histories, device.ID)
			return
		}
		t.histories[device.ID] = &buttonHistory{
			device:    device,
			button:    button,
			state:     stateFirstPressAwaitingRelease,
			startedAt: now,
			deadline:  now.Add(buttonTrackingWindow),
		}
		return
	}

	if !history.state.validAction(action) {
		t.logger.Debug("dropping out-of-order button action",
			"device", device.Name, "button", button.Slug, "action", action.String())
		return
	}

	history.state = history.state.next()
}

// evaluate classifies every tracked sequence against the clock and
// emits events. Sequences reaching a terminal state are removed.
func (t *ButtonTracker) evaluate(now time.Time) {
	type emission struct {
		device *Device
		button Button
		click  ClickType
	}
	var emissions []emission

	t.mu.Lock()
	for deviceID, history := range t.histories {
		// The double-click window must pass before the first press can
		// be classified.
		if now.Before(history.startedAt.Add(doubleClickWindow)) {
			continue
		}

		switch history.state {
		case stateDoublePressFinished:
			emissions = append(emissions, emission{history.device, history.button, ClickDouble})
			delete(t.histories, deviceID)
			continue

		case stateFirstPressAndFirstRelease:
			click := ClickSingle
			if history.longReported {
				click = ClickLongFinished
			}
			emissions = append(emissions, emission{history.device, history.button, click})
			delete(t.histories, deviceID)
			continue

		case stateFirstPressAwaitingRelease:
			// Still held past the window: a long press in progress,
			// reported on every evaluation until release.
			history.longReported = true
			emissions = append(emissions, emission{history.device, history.button, ClickLong})
		}

		if now.After(history.deadline) {
			t.logger.Debug("button tracking window ended without a terminal state",
				"device", history.device.Name, "button", history.button.Slug)
			delete(t.histories, deviceID)
		}
	}
	t.mu.Unlock()

	// Emit outside the lock; the sink publishes to MQTT.
	for _, e := range emissions {
		t.emit(e.device, e.button, e.click)
	}
}

// Active returns how many sequences are currently being tracked.
func (t *ButtonTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.histories)
}
