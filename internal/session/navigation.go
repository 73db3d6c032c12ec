package session

import (
	"fmt"

	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionState is the derived visual state of one question. Answered and
// Flagged are independent; both may apply at once.
type QuestionState struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Current  bool   `json:"current"`
	Answered bool   `json:"answered"`
	Flagged  bool   `json:"flagged"`
}

// Navigator tracks the current question index over a fixed question order.
// Visual state is always derived from the AnswerStore on read.
type Navigator struct {
	questions []model.Question
	answers   *AnswerStore
	index     int
}

// NewNavigator positions a navigator on the first question.
func NewNavigator(questions []model.Question, answers *AnswerStore) *Navigator {
	return &Navigator{questions: questions, answers: answers}
}

// GoTo moves to index i. Out-of-range requests are rejected.
func (n *Navigator) GoTo(i int) error {
	if i < 0 || i >= len(n.questions) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(n.questions))
	}
	n.index = i
	return nil
}

// Next advances one question; it returns false at the last question.
func (n *Navigator) Next() bool {
	if !n.HasNext() {
		return false
	}
	n.index++
	return true
}

// Previous moves back one question; it returns false at the first question.
func (n *Navigator) Previous() bool {
	if !n.HasPrevious() {
		return false
	}
	n.index--
	return true
}

func (n *Navigator) HasNext() bool     { return n.index < len(n.questions)-1 }
func (n *Navigator) HasPrevious() bool { return n.index > 0 }
func (n *Navigator) Index() int        { return n.index }

// Current returns the question at the current index.
func (n *Navigator) Current() model.Question {
	return n.questions[n.index]
}

// State derives the visual state of question i.
func (n *Navigator) State(i int) QuestionState {
	q := n.questions[i]
	_, answered := n.answers.Get(q.ID)
	return QuestionState{
		Index:    i,
		ID:       q.ID,
		Current:  i == n.index,
		Answered: answered,
		Flagged:  n.answers.IsFlagged(q.ID),
	}
}

// States derives the visual state of every question in display order.
func (n *Navigator) States() []QuestionState {
	out := make([]QuestionState, len(n.questions))
	for i := range n.questions {
		out[i] = n.State(i)
	}
	return out
}

// Counts returns the answered and unanswered totals shown at submit confirmation.
func (n *Navigator) Counts() (answered, unanswered int) {
	for _, q := range n.questions {
		if _, ok := n.answers.Get(q.ID); ok {
			answered++
		}
	}
	return answered, len(n.questions) - answered
}
