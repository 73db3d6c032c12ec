package websocket

import (
	"testing"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	action, err := Decode([]byte(`{"action":"answer","question_id":"q1","answer":2}`))
	require.NoError(t, err)
	assert.Equal(t, ActionAnswer, action)

	_, err = Decode([]byte(`{"question_id":"q1"}`))
	assert.Error(t, err, "action is required")

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseAnswer(t *testing.T) {
	var req AnswerRequest
	require.Nil(t, Parse([]byte(`{"action":"answer","question_id":"q3","answer":false}`), &req))
	assert.Equal(t, "q3", req.QuestionID)
	assert.Equal(t, model.BoolAnswer(false), *req.Answer)

	var missing AnswerRequest
	fields := Parse([]byte(`{"action":"answer","question_id":"q3"}`), &missing)
	assert.Contains(t, fields, "answer")
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		dst   interface{}
		field string
	}{
		{"negative index", `{"action":"goto","index":-1}`, &GoToRequest{}, "index"},
		{"missing index", `{"action":"goto"}`, &GoToRequest{}, "index"},
		{"unknown clipboard kind", `{"action":"clipboard","kind":"print"}`, &ClipboardRequest{}, "kind"},
		{"missing hidden", `{"action":"visibility"}`, &VisibilityRequest{}, "hidden"},
		{"unconfirmed submit", `{"action":"submit","confirm":false}`, &SubmitRequest{}, "confirm"},
		{"missing key", `{"action":"keydown"}`, &KeyDownRequest{}, "key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := Parse([]byte(tt.raw), tt.dst)
			assert.Contains(t, fields, tt.field)
		})
	}

	var first GoToRequest
	require.Nil(t, Parse([]byte(`{"action":"goto","index":0}`), &first))
	assert.Equal(t, 0, *first.Index)
}

func TestKeyDownRequestKeyEvent(t *testing.T) {
	req := KeyDownRequest{Key: "v", Meta: true}
	assert.Equal(t, session.KeyEvent{Key: "v", Meta: true}, req.KeyEvent())
}

func TestFromSignal(t *testing.T) {
	tick := FromSignal(session.Signal{Kind: session.SignalTick, Remaining: 0, Urgency: session.UrgencyCritical})
	assert.Equal(t, EventTick, tick.Event)
	require.NotNil(t, tick.Remaining, "zero remaining is still sent")
	assert.Equal(t, 0, *tick.Remaining)

	warn := FromSignal(session.Signal{Kind: session.SignalTabSwitchWarning, Count: 3})
	assert.Equal(t, EventTabSwitchWarning, warn.Event)
	assert.Nil(t, warn.Remaining)
	assert.Equal(t, 3, warn.Count)

	failed := FromSignal(session.Signal{Kind: session.SignalSubmitFailed, Error: "dial tcp: refused"})
	assert.Equal(t, response.GetMessage(response.ErrSubmissionFailed), failed.Error)
}
