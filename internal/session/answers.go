package session

import (
	"fmt"
	"sort"

	"github.com/stemsi/exstem-session/internal/model"
)

// AnswerStore maps question IDs to the student's current answer and tracks
// flagged questions. Values are validated against the question kind.
type AnswerStore struct {
	questions map[string]model.Question
	answers   map[string]model.Answer
	flagged   map[string]struct{}
}

// NewAnswerStore creates an empty store whose key domain is the given questions.
func NewAnswerStore(questions []model.Question) *AnswerStore {
	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	return &AnswerStore{
		questions: byID,
		answers:   make(map[string]model.Answer, len(questions)),
		flagged:   make(map[string]struct{}),
	}
}

// Set records an answer after validating it against the question kind.
func (s *AnswerStore) Set(questionID string, value model.Answer) error {
	q, ok := s.questions[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if err := ValidateAnswer(q, value); err != nil {
		return err
	}
	s.answers[questionID] = value
	return nil
}

// Get returns the current answer, if any.
func (s *AnswerStore) Get(questionID string) (model.Answer, bool) {
	a, ok := s.answers[questionID]
	return a, ok
}

// Remove clears the answer for a question. Removing an absent answer is a no-op.
func (s *AnswerStore) Remove(questionID string) error {
	if _, ok := s.questions[questionID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	delete(s.answers, questionID)
	return nil
}

// AnsweredCount returns the number of questions holding an answer.
func (s *AnswerStore) AnsweredCount() int {
	return len(s.answers)
}

// Flag marks questionID for review. Flagging is independent of answering.
func (s *AnswerStore) Flag(questionID string) error {
	if _, ok := s.questions[questionID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	s.flagged[questionID] = struct{}{}
	return nil
}

// Unflag clears the review mark on questionID.
func (s *AnswerStore) Unflag(questionID string) error {
	if _, ok := s.questions[questionID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	delete(s.flagged, questionID)
	return nil
}

// IsFlagged reports whether questionID is marked for review.
func (s *AnswerStore) IsFlagged(questionID string) bool {
	_, ok := s.flagged[questionID]
	return ok
}

// Answers returns a copy of the answer mapping.
func (s *AnswerStore) Answers() map[string]model.Answer {
	out := make(map[string]model.Answer, len(s.answers))
	for id, a := range s.answers {
		out[id] = a
	}
	return out
}

// FlaggedIDs returns the flagged question IDs in sorted order.
func (s *AnswerStore) FlaggedIDs() []string {
	ids := make([]string, 0, len(s.flagged))
	for id := range s.flagged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateAnswer checks that value is acceptable for question q.
//
//   - multiple_choice: an option index in [0, len(options))
//   - true_false: exactly "true" or "false"
//   - short_answer: any text, the empty string included
func ValidateAnswer(q model.Question, value model.Answer) error {
	switch q.Kind {
	case model.QuestionKindMultipleChoice:
		if value.Choice == nil || value.Text != nil {
			return fmt.Errorf("%w: %s expects an option index", ErrInvalidAnswer, q.ID)
		}
		if i := *value.Choice; i < 0 || i >= len(q.Options) {
			return fmt.Errorf("%w: option %d outside [0,%d) for %s", ErrInvalidAnswer, i, len(q.Options), q.ID)
		}
	case model.QuestionKindTrueFalse:
		if value.Text == nil || value.Choice != nil {
			return fmt.Errorf("%w: %s expects true or false", ErrInvalidAnswer, q.ID)
		}
		if t := *value.Text; t != model.AnswerTrue && t != model.AnswerFalse {
			return fmt.Errorf("%w: %q is not true or false for %s", ErrInvalidAnswer, t, q.ID)
		}
	case model.QuestionKindShortAnswer:
		if value.Text == nil || value.Choice != nil {
			return fmt.Errorf("%w: %s expects text", ErrInvalidAnswer, q.ID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q for %s", ErrInvalidAnswer, q.Kind, q.ID)
	}
	return nil
}
