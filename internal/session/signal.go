package session

import (
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// SignalKind names a notification the session raises for the host UI.
type SignalKind string

const (
	SignalTick              SignalKind = "tick"
	SignalUrgency           SignalKind = "urgency"
	SignalPrevent           SignalKind = "prevent"
	SignalTabSwitchWarning  SignalKind = "tab_switch_warning"
	SignalFullscreenRelock  SignalKind = "fullscreen_relock"
	SignalFullscreenWarning SignalKind = "fullscreen_warning"
	SignalTimeout           SignalKind = "timeout"
	SignalSubmitted         SignalKind = "submitted"
	SignalSubmitFailed      SignalKind = "submit_failed"
)

// Signal is a non-blocking notification. Only the fields relevant to Kind are set.
type Signal struct {
	Kind      SignalKind    `json:"kind"`
	Remaining int           `json:"remaining,omitempty"`
	Urgency   Urgency       `json:"urgency,omitempty"`
	Count     int           `json:"count,omitempty"`
	Delay     time.Duration `json:"-"`
	Activity  string        `json:"activity,omitempty"`
	Error     string        `json:"error,omitempty"`
	// Record is the stored submission, set on SignalSubmitted. It is
	// immutable and safe to share.
	Record *model.Submission `json:"-"`
}
