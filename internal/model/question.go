package model

import (
	"github.com/google/uuid"
)

// QuestionKind enumerates the supported question formats.
type QuestionKind string

const (
	QuestionKindMultipleChoice QuestionKind = "multiple_choice"
	QuestionKindTrueFalse      QuestionKind = "true_false"
	QuestionKindShortAnswer    QuestionKind = "short_answer"
)

// Valid reports whether k is one of the known question kinds.
func (k QuestionKind) Valid() bool {
	switch k {
	case QuestionKindMultipleChoice, QuestionKindTrueFalse, QuestionKindShortAnswer:
		return true
	}
	return false
}

// Question represents a single exam question. It is immutable once loaded into a session.
type Question struct {
	ID      string       `json:"id"`
	ExamID  uuid.UUID    `json:"exam_id"`
	Kind    QuestionKind `json:"kind"`
	Text    string       `json:"text"`
	Options []string     `json:"options,omitempty"`
	// Correct holds an option index for multiple_choice, "true"/"false" for
	// true_false, and is nil for short_answer.
	Correct  *Answer `json:"correct_answer,omitempty"`
	Points   int     `json:"points"`
	OrderNum int     `json:"order_num"`
}

// ForStudent strips the correct answer so the question can be sent to a client.
func (q Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:      q.ID,
		Kind:    q.Kind,
		Text:    q.Text,
		Options: q.Options,
		Points:  q.Points,
	}
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID      string       `json:"id"`
	Kind    QuestionKind `json:"kind"`
	Text    string       `json:"text"`
	Options []string     `json:"options,omitempty"`
	Points  int          `json:"points"`
}
