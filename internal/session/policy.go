package session

import "time"

// IntegrityPolicy configures how the integrity monitor reacts to observations.
type IntegrityPolicy struct {
	// TabSwitchWarnThreshold is the tab-switch count at which a single warning fires.
	TabSwitchWarnThreshold int
	// FullscreenRelockDelay is the grace delay before fullscreen is re-requested.
	FullscreenRelockDelay time.Duration
	// FullscreenStartupGrace suppresses fullscreen warnings early in the attempt,
	// while the browser may still be entering fullscreen.
	FullscreenStartupGrace time.Duration
	// FullscreenWarnAfter is the fullscreen-loss count from which warnings fire.
	FullscreenWarnAfter int
}

// DefaultIntegrityPolicy is used when no override is configured.
var DefaultIntegrityPolicy = IntegrityPolicy{
	TabSwitchWarnThreshold: 3,
	FullscreenRelockDelay:  2 * time.Second,
	FullscreenStartupGrace: 5 * time.Second,
	FullscreenWarnAfter:    2,
}

// FullscreenDecision is what to do after fullscreen presentation was lost.
type FullscreenDecision struct {
	Relock bool
	Delay  time.Duration
	Warn   bool
}

// Fullscreen decides the response to the lostCount-th fullscreen loss observed
// elapsed into the attempt. It has no side effects.
func (p IntegrityPolicy) Fullscreen(lostCount int, elapsed time.Duration) FullscreenDecision {
	d := FullscreenDecision{Relock: true, Delay: p.FullscreenRelockDelay}
	if lostCount <= 0 {
		return FullscreenDecision{}
	}
	if p.FullscreenWarnAfter > 0 && lostCount >= p.FullscreenWarnAfter && elapsed >= p.FullscreenStartupGrace {
		d.Warn = true
	}
	return d
}

// TabSwitchWarning reports whether the count-th tab switch should raise the
// warning. It fires exactly once, when the threshold is reached.
func (p IntegrityPolicy) TabSwitchWarning(count int) bool {
	return p.TabSwitchWarnThreshold > 0 && count == p.TabSwitchWarnThreshold
}
