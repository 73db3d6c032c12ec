package websocket

import (
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer     Action = "answer"
	ActionClear      Action = "clear"
	ActionFlag       Action = "flag"
	ActionUnflag     Action = "unflag"
	ActionGoTo       Action = "goto"
	ActionNext       Action = "next"
	ActionPrevious   Action = "previous"
	ActionKeyDown    Action = "keydown"
	ActionClipboard  Action = "clipboard"
	ActionVisibility Action = "visibility"
	ActionFullscreen Action = "fullscreen"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
	ActionState      Action = "state"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action" binding:"required"`
}

// AnswerRequest sets the answer of one question.
type AnswerRequest struct {
	Action     Action        `json:"action"`
	QuestionID string        `json:"question_id" binding:"required,max=64,question_id"`
	Answer     *model.Answer `json:"answer" binding:"required"`
}

// QuestionRequest addresses one question: clear, flag and unflag.
type QuestionRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id" binding:"required,max=64,question_id"`
}

// GoToRequest jumps to a question by position.
type GoToRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index" binding:"required,min=0"`
}

// KeyDownRequest forwards a keydown observation.
type KeyDownRequest struct {
	Action Action `json:"action"`
	Key    string `json:"key" binding:"required,max=32"`
	Ctrl   bool   `json:"ctrl"`
	Meta   bool   `json:"meta"`
	Shift  bool   `json:"shift"`
	Alt    bool   `json:"alt"`
}

// KeyEvent converts the request to the integrity monitor's observation.
func (r KeyDownRequest) KeyEvent() session.KeyEvent {
	return session.KeyEvent{Key: r.Key, Ctrl: r.Ctrl, Meta: r.Meta, Shift: r.Shift, Alt: r.Alt}
}

// ClipboardRequest forwards a copy, cut or paste raised outside a shortcut.
type ClipboardRequest struct {
	Action Action             `json:"action"`
	Kind   model.ActivityKind `json:"kind" binding:"required,oneof=copy cut paste"`
}

// VisibilityRequest forwards a page visibility change.
type VisibilityRequest struct {
	Action Action `json:"action"`
	Hidden *bool  `json:"hidden" binding:"required"`
}

// FullscreenRequest forwards a fullscreen presentation change.
type FullscreenRequest struct {
	Action     Action `json:"action"`
	Fullscreen *bool  `json:"fullscreen" binding:"required"`
}

// SubmitRequest is the student's confirmed submission.
type SubmitRequest struct {
	Action  Action `json:"action"`
	Confirm bool   `json:"confirm" binding:"required"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState             Event = "state"
	EventTick              Event = "tick"
	EventUrgency           Event = "urgency"
	EventPrevent           Event = "prevent"
	EventTabSwitchWarning  Event = "tab_switch_warning"
	EventFullscreenRelock  Event = "fullscreen_relock"
	EventFullscreenWarning Event = "fullscreen_warning"
	EventTimeout           Event = "timeout"
	EventSubmitted         Event = "submitted"
	EventSubmitFailed      Event = "submit_failed"
	EventError             Event = "error"
	EventPong              Event = "pong"
)

// StateResponse carries the full session view.
type StateResponse struct {
	Event Event       `json:"event"`
	State interface{} `json:"state"`
}

// SignalResponse relays one session signal.
type SignalResponse struct {
	Event     Event           `json:"event"`
	Remaining *int            `json:"remaining_seconds,omitempty"`
	Urgency   session.Urgency `json:"urgency,omitempty"`
	Count     int             `json:"count,omitempty"`
	Activity  string          `json:"activity,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SubmittedResponse confirms the stored submission.
type SubmittedResponse struct {
	Event      Event               `json:"event"`
	Submission *model.Submission   `json:"submission,omitempty"`
	Trigger    model.SubmitTrigger `json:"trigger,omitempty"`
}

type ErrorResponse struct {
	Event     Event             `json:"event"`
	Code      response.ErrCode  `json:"code"`
	Error     string            `json:"error"`
	Retryable bool              `json:"retryable,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

// FromSignal maps a session signal onto its wire event. A successful
// submission is reported with SubmittedResponse instead.
func FromSignal(sig session.Signal) SignalResponse {
	res := SignalResponse{
		Event:    Event(sig.Kind),
		Urgency:  sig.Urgency,
		Count:    sig.Count,
		Activity: sig.Activity,
	}
	switch sig.Kind {
	case session.SignalTick, session.SignalUrgency:
		remaining := sig.Remaining
		res.Remaining = &remaining
	case session.SignalSubmitFailed:
		res.Error = response.GetMessage(response.ErrSubmissionFailed)
	}
	return res
}
