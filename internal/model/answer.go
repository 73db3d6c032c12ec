package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// Canonical true/false answer tokens.
const (
	AnswerTrue  = "true"
	AnswerFalse = "false"
)

// Answer is a student's response to one question.
//
// Exactly one of Choice or Text is set. On the wire an Answer is a bare JSON
// number (option index) or a bare JSON string (true/false token or free text),
// so a snapshot of answers reads as {"q1": 2, "q3": "false"}.
type Answer struct {
	Choice *int
	Text   *string
}

// ChoiceAnswer builds a multiple-choice answer selecting option index i.
func ChoiceAnswer(i int) Answer {
	return Answer{Choice: &i}
}

// TextAnswer builds a free-text (or true/false token) answer.
func TextAnswer(s string) Answer {
	return Answer{Text: &s}
}

// BoolAnswer builds a true/false answer using the canonical tokens.
func BoolAnswer(b bool) Answer {
	if b {
		return TextAnswer(AnswerTrue)
	}
	return TextAnswer(AnswerFalse)
}

// IsZero reports whether the answer carries no value.
func (a Answer) IsZero() bool {
	return a.Choice == nil && a.Text == nil
}

// Equal compares two answers by value.
func (a Answer) Equal(b Answer) bool {
	switch {
	case a.Choice != nil && b.Choice != nil:
		return *a.Choice == *b.Choice
	case a.Text != nil && b.Text != nil:
		return *a.Text == *b.Text
	}
	return a.IsZero() && b.IsZero()
}

// String renders the answer the way the autosave queue stores it.
func (a Answer) String() string {
	switch {
	case a.Choice != nil:
		return strconv.Itoa(*a.Choice)
	case a.Text != nil:
		return *a.Text
	}
	return ""
}

var errEmptyAnswer = errors.New("answer has no value")

// MarshalJSON encodes the answer as a bare number or string.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch {
	case a.Choice != nil:
		return json.Marshal(*a.Choice)
	case a.Text != nil:
		return json.Marshal(*a.Text)
	}
	return nil, errEmptyAnswer
}

// UnmarshalJSON accepts a number (choice), a string (text) or a boolean,
// which is normalised to the canonical true/false token.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errEmptyAnswer
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = TextAnswer(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*a = BoolAnswer(b)
	default:
		var i int
		if err := json.Unmarshal(data, &i); err != nil {
			return err
		}
		*a = ChoiceAnswer(i)
	}
	return nil
}
