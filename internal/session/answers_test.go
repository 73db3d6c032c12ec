package session

import (
	"testing"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAnswer(t *testing.T) {
	qs := testQuestions()
	mcq, tf, sa := qs[0], qs[1], qs[2]

	tests := []struct {
		name    string
		q       model.Question
		value   model.Answer
		wantErr bool
	}{
		{"mcq first option", mcq, model.ChoiceAnswer(0), false},
		{"mcq last option", mcq, model.ChoiceAnswer(3), false},
		{"mcq past last option", mcq, model.ChoiceAnswer(4), true},
		{"mcq negative option", mcq, model.ChoiceAnswer(-1), true},
		{"mcq text value", mcq, model.TextAnswer("4"), true},
		{"tf true", tf, model.BoolAnswer(true), false},
		{"tf false", tf, model.TextAnswer("false"), false},
		{"tf other token", tf, model.TextAnswer("yes"), true},
		{"tf choice value", tf, model.ChoiceAnswer(1), true},
		{"short answer text", sa, model.TextAnswer("7"), false},
		{"short answer empty text", sa, model.TextAnswer(""), false},
		{"short answer choice", sa, model.ChoiceAnswer(0), true},
		{"empty value", sa, model.Answer{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAnswer(tt.q, tt.value)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAnswer)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAnswerStore(t *testing.T) {
	s := NewAnswerStore(testQuestions())

	require.NoError(t, s.Set("q1", model.ChoiceAnswer(1)))
	require.NoError(t, s.Set("q3", model.TextAnswer("seven")))
	assert.Equal(t, 2, s.AnsweredCount())

	// Overwrite keeps a single entry.
	require.NoError(t, s.Set("q1", model.ChoiceAnswer(2)))
	got, ok := s.Get("q1")
	require.True(t, ok)
	assert.True(t, got.Equal(model.ChoiceAnswer(2)))
	assert.Equal(t, 2, s.AnsweredCount())

	// A rejected value leaves the previous answer untouched.
	assert.ErrorIs(t, s.Set("q1", model.ChoiceAnswer(9)), ErrInvalidAnswer)
	got, _ = s.Get("q1")
	assert.True(t, got.Equal(model.ChoiceAnswer(2)))

	assert.ErrorIs(t, s.Set("nope", model.ChoiceAnswer(0)), ErrUnknownQuestion)

	require.NoError(t, s.Remove("q3"))
	require.NoError(t, s.Remove("q3"))
	_, ok = s.Get("q3")
	assert.False(t, ok)
	assert.Equal(t, 1, s.AnsweredCount())
}

func TestAnswerStoreFlags(t *testing.T) {
	s := NewAnswerStore(testQuestions())

	require.NoError(t, s.Flag("q3"))
	require.NoError(t, s.Flag("q1"))
	require.NoError(t, s.Flag("q3"))
	assert.True(t, s.IsFlagged("q3"))
	assert.Equal(t, []string{"q1", "q3"}, s.FlaggedIDs())

	// Flagging is independent of answering.
	assert.Equal(t, 0, s.AnsweredCount())

	require.NoError(t, s.Unflag("q3"))
	require.NoError(t, s.Unflag("q2"))
	assert.False(t, s.IsFlagged("q3"))
	assert.ErrorIs(t, s.Flag("q9"), ErrUnknownQuestion)
}

func TestAnswerStoreAnswersIsCopy(t *testing.T) {
	s := NewAnswerStore(testQuestions())
	require.NoError(t, s.Set("q2", model.BoolAnswer(true)))

	m := s.Answers()
	delete(m, "q2")

	_, ok := s.Get("q2")
	assert.True(t, ok)
}
