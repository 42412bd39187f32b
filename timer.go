package catcierge

import "time"

// Timer is a monotonic stopwatch. Every non-Waiting state of the
// controller is governed by exactly one of these.
//
// A timer can be armed with Set without being started; calling Set on a
// started timer restarts it. Durations and elapsed values are seconds.
type Timer struct {
	duration float64
	started  time.Time
	active   bool

	// now is swapped out in tests. Nil means time.Now.
	now func() time.Time
}

// Set arms the timer with a duration in seconds. If the timer is already
// running it is restarted.
func (t *Timer) Set(seconds float64) {
	t.duration = seconds
	if t.active {
		t.started = t.clock()
	}
}

// Start begins measuring elapsed time.
func (t *Timer) Start() {
	t.started = t.clock()
	t.active = true
}

// Reset disarms the timer. The configured duration is kept.
func (t *Timer) Reset() {
	t.active = false
}

// Elapsed returns the seconds since Start, or 0 for an inactive timer.
func (t *Timer) Elapsed() float64 {
	if !t.active {
		return 0
	}
	return t.clock().Sub(t.started).Seconds()
}

// IsActive reports whether the timer has been started and not reset.
func (t *Timer) IsActive() bool {
	return t.active
}

// Duration returns the armed duration in seconds.
func (t *Timer) Duration() float64 {
	return t.duration
}

// TimedOut reports whether the timer is active and its duration has
// fully elapsed.
func (t *Timer) TimedOut() bool {
	return t.active && t.Elapsed() >= t.duration
}

func (t *Timer) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}
