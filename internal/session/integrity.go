package session

import (
	"strings"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// KeyEvent is a keydown observation forwarded by the client.
type KeyEvent struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl"`
	Meta  bool   `json:"meta"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
}

// ClassifyKey reports whether a key combination is a clipboard, select-all or
// developer-tools shortcut that must be prevented.
func ClassifyKey(ev KeyEvent) (model.ActivityKind, bool) {
	key := strings.ToLower(ev.Key)
	if key == "f12" {
		return model.ActivityDevTools, true
	}

	mod := ev.Ctrl || ev.Meta
	if !mod {
		return "", false
	}

	// Ctrl+Shift+I/J/C on Windows/Linux, Cmd+Alt+I/J/C on macOS, Ctrl+U (view source).
	if ev.Shift || (ev.Meta && ev.Alt) {
		switch key {
		case "i", "j", "c":
			return model.ActivityDevTools, true
		}
	}
	if ev.Shift || ev.Alt {
		return "", false
	}

	switch key {
	case "c":
		return model.ActivityCopy, true
	case "x":
		return model.ActivityCut, true
	case "v":
		return model.ActivityPaste, true
	case "a":
		return model.ActivitySelectAll, true
	case "u":
		return model.ActivityDevTools, true
	}
	return "", false
}

// Monitor records suspicious activity. It never ends the session itself;
// the log is reviewed by the grading workflow.
type Monitor struct {
	policy          IntegrityPolicy
	now             func() time.Time
	started         time.Time
	log             []model.ActivityEvent
	tabSwitches     int
	fullscreenLoss  int
	hidden          bool
	fullscreen      bool
	fullscreenKnown bool
}

// NewMonitor creates a monitor with an empty log.
func NewMonitor(policy IntegrityPolicy, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{policy: policy, now: now, started: now()}
}

// RestoreCounters seeds tab-switch count and activity log from a resumed attempt.
func (m *Monitor) RestoreCounters(log []model.ActivityEvent, tabSwitches int) {
	m.log = append(m.log[:0], log...)
	m.tabSwitches = tabSwitches
}

func (m *Monitor) record(kind model.ActivityKind) model.ActivityEvent {
	ev := model.ActivityEvent{Kind: kind, Timestamp: m.now()}
	m.log = append(m.log, ev)
	return ev
}

// OnKeyDown inspects a keydown. Prevented combinations are logged and
// returned with a prevent signal.
func (m *Monitor) OnKeyDown(ev KeyEvent) ([]model.ActivityEvent, []Signal) {
	kind, suspicious := ClassifyKey(ev)
	if !suspicious {
		return nil, nil
	}
	logged := m.record(kind)
	return []model.ActivityEvent{logged}, []Signal{{Kind: SignalPrevent, Activity: string(kind)}}
}

// OnClipboard handles a copy, cut or paste event raised outside a shortcut
// (context menu, drag-and-drop).
func (m *Monitor) OnClipboard(kind model.ActivityKind) ([]model.ActivityEvent, []Signal) {
	switch kind {
	case model.ActivityCopy, model.ActivityCut, model.ActivityPaste:
	default:
		return nil, nil
	}
	logged := m.record(kind)
	return []model.ActivityEvent{logged}, []Signal{{Kind: SignalPrevent, Activity: string(kind)}}
}

// OnVisibilityChange handles page visibility. Only a visible→hidden transition
// counts as a tab switch; repeated hidden reports are collapsed.
func (m *Monitor) OnVisibilityChange(hidden bool) ([]model.ActivityEvent, []Signal) {
	wasHidden := m.hidden
	m.hidden = hidden
	if !hidden || wasHidden {
		return nil, nil
	}

	m.tabSwitches++
	logged := m.record(model.ActivityTabSwitch)

	var signals []Signal
	if m.policy.TabSwitchWarning(m.tabSwitches) {
		signals = append(signals, Signal{Kind: SignalTabSwitchWarning, Count: m.tabSwitches})
	}
	return []model.ActivityEvent{logged}, signals
}

// OnFullscreenChange handles fullscreen presentation changes. Losing
// fullscreen is logged and answered with a delayed relock request.
func (m *Monitor) OnFullscreenChange(fullscreen bool) ([]model.ActivityEvent, []Signal) {
	was, known := m.fullscreen, m.fullscreenKnown
	m.fullscreen, m.fullscreenKnown = fullscreen, true
	// Only a fullscreen → windowed transition is a loss.
	if fullscreen || !known || !was {
		return nil, nil
	}

	m.fullscreenLoss++
	logged := m.record(model.ActivityFullscreenExit)

	decision := m.policy.Fullscreen(m.fullscreenLoss, m.now().Sub(m.started))
	var signals []Signal
	if decision.Warn {
		signals = append(signals, Signal{Kind: SignalFullscreenWarning, Count: m.fullscreenLoss})
	}
	if decision.Relock {
		signals = append(signals, Signal{Kind: SignalFullscreenRelock, Delay: decision.Delay, Count: m.fullscreenLoss})
	}
	return []model.ActivityEvent{logged}, signals
}

// IsFullscreen reports the last observed fullscreen state.
func (m *Monitor) IsFullscreen() bool { return m.fullscreen }

func (m *Monitor) TabSwitchCount() int { return m.tabSwitches }

// Log returns a copy of the suspicious-activity log in firing order.
func (m *Monitor) Log() []model.ActivityEvent {
	out := make([]model.ActivityEvent, len(m.log))
	copy(out, m.log)
	return out
}
