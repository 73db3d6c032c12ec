package session

import (
	"fmt"
)

// TimerState is the countdown lifecycle: idle → running → {expired, stopped}.
type TimerState string

const (
	TimerIdle    TimerState = "idle"
	TimerRunning TimerState = "running"
	TimerExpired TimerState = "expired"
	TimerStopped TimerState = "stopped"
)

// Urgency is the visual urgency level derived from remaining time.
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyWarning  Urgency = "warning"
	UrgencyCritical Urgency = "critical"
)

// Thresholds configures when urgency levels begin, in remaining seconds.
type Thresholds struct {
	WarningSeconds  int
	CriticalSeconds int
}

// DefaultThresholds switch to warning at 10 minutes and critical at 5 minutes.
var DefaultThresholds = Thresholds{WarningSeconds: 600, CriticalSeconds: 300}

// UrgencyFor maps a remaining time onto an urgency level.
func (t Thresholds) UrgencyFor(remaining int) Urgency {
	switch {
	case remaining <= t.CriticalSeconds:
		return UrgencyCritical
	case remaining <= t.WarningSeconds:
		return UrgencyWarning
	}
	return UrgencyNormal
}

// TickResult describes the outcome of one countdown tick.
type TickResult struct {
	Remaining      int
	Urgency        Urgency
	UrgencyChanged bool
	// Expired is true only on the tick that reached zero.
	Expired bool
}

// Countdown is the single authoritative clock of a session. It holds no
// scheduler; the owner calls Tick once per second while it is running.
type Countdown struct {
	state      TimerState
	total      int
	remaining  int
	urgency    Urgency
	thresholds Thresholds
}

// NewCountdown creates an idle countdown.
func NewCountdown(th Thresholds) *Countdown {
	return &Countdown{state: TimerIdle, urgency: UrgencyNormal, thresholds: th}
}

// Start begins counting down durationSeconds.
func (c *Countdown) Start(durationSeconds int) error {
	return c.Resume(durationSeconds, durationSeconds)
}

// Resume begins a countdown of total seconds that already has only remaining
// seconds left, as happens when an attempt is reloaded mid-way. A remaining of
// zero or less expires the countdown immediately.
func (c *Countdown) Resume(total, remaining int) error {
	if c.state != TimerIdle {
		return fmt.Errorf("%w: state is %s", ErrTimerNotIdle, c.state)
	}
	if remaining > total {
		remaining = total
	}
	if remaining < 0 {
		remaining = 0
	}
	c.total = total
	c.remaining = remaining
	c.urgency = c.thresholds.UrgencyFor(remaining)
	c.state = TimerRunning
	if remaining == 0 {
		c.state = TimerExpired
	}
	return nil
}

// Tick decrements the remaining time by one second. Ticks outside the running
// state have no effect and report no expiry.
func (c *Countdown) Tick() TickResult {
	if c.state != TimerRunning {
		return TickResult{Remaining: c.remaining, Urgency: c.urgency}
	}

	c.remaining--
	res := TickResult{Remaining: c.remaining}

	if u := c.thresholds.UrgencyFor(c.remaining); u != c.urgency {
		c.urgency = u
		res.UrgencyChanged = true
	}
	res.Urgency = c.urgency

	if c.remaining <= 0 {
		c.remaining = 0
		c.state = TimerExpired
		res.Remaining = 0
		res.Expired = true
	}
	return res
}

// Stop halts a running countdown. Stopping in any other state is a no-op.
func (c *Countdown) Stop() {
	if c.state == TimerRunning {
		c.state = TimerStopped
	}
}

func (c *Countdown) State() TimerState { return c.state }
func (c *Countdown) Remaining() int    { return c.remaining }
func (c *Countdown) Total() int        { return c.total }
func (c *Countdown) Urgency() Urgency  { return c.urgency }

// Elapsed is total minus remaining, the only source of time spent.
func (c *Countdown) Elapsed() int {
	return c.total - c.remaining
}
