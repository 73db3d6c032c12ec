package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionSource lists the questions of an exam.
type QuestionSource interface {
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// OrderStore remembers the shuffled order chosen for an attempt so a reload
// sees the same order. LoadOrder returns nil when nothing is stored.
// SaveOrder only creates: when an order already exists it is returned
// unchanged. ReplaceOrder overwrites an order that no longer fits the exam.
type OrderStore interface {
	LoadOrder(ctx context.Context, examID uuid.UUID, studentID string) ([]string, error)
	SaveOrder(ctx context.Context, examID uuid.UUID, studentID string, order []string) ([]string, error)
	ReplaceOrder(ctx context.Context, examID uuid.UUID, studentID string, order []string) error
}

// Loader fetches an exam's questions and fixes a random order for the attempt.
type Loader struct {
	src    QuestionSource
	orders OrderStore
	log    zerolog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewLoader creates a Loader. orders may be nil, in which case every load
// draws a fresh order. rnd is the random source; pass a seeded one in tests.
func NewLoader(src QuestionSource, orders OrderStore, rnd *rand.Rand, log zerolog.Logger) *Loader {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Loader{
		src:    src,
		orders: orders,
		rnd:    rnd,
		log:    log.With().Str("component", "question_loader").Logger(),
	}
}

// Load returns the attempt's questions in their fixed randomized order.
// A failed fetch or an empty exam is fatal to session initialization.
func (l *Loader) Load(ctx context.Context, examID uuid.UUID, studentID string) ([]model.Question, error) {
	questions, err := l.src.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	var stale bool
	if l.orders != nil {
		stored, err := l.orders.LoadOrder(ctx, examID, studentID)
		if err != nil {
			l.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Stored question order unreadable, reshuffling")
		} else if ordered, ok := ApplyOrder(questions, stored); ok {
			return ordered, nil
		} else {
			stale = len(stored) > 0
		}
	}

	shuffled := make([]model.Question, len(questions))
	copy(shuffled, questions)

	l.mu.Lock()
	Shuffle(l.rnd, shuffled)
	l.mu.Unlock()

	if l.orders == nil {
		return shuffled, nil
	}
	if stale {
		if err := l.orders.ReplaceOrder(ctx, examID, studentID, QuestionIDs(shuffled)); err != nil {
			l.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to replace stale question order")
		}
		return shuffled, nil
	}

	// Another start of the same attempt may have stored its order first.
	winner, err := l.orders.SaveOrder(ctx, examID, studentID, QuestionIDs(shuffled))
	if err != nil {
		l.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to store question order")
		return shuffled, nil
	}
	if ordered, ok := ApplyOrder(questions, winner); ok {
		return ordered, nil
	}
	return shuffled, nil
}

// Shuffle permutes questions in place with an unbiased Fisher–Yates shuffle.
func Shuffle(r *rand.Rand, questions []model.Question) {
	for i := len(questions) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		questions[i], questions[j] = questions[j], questions[i]
	}
}

// ApplyOrder arranges questions by a stored ID order. It fails unless order is
// an exact permutation of the question IDs, so a changed exam is reshuffled.
func ApplyOrder(questions []model.Question, order []string) ([]model.Question, bool) {
	if len(order) == 0 || len(order) != len(questions) {
		return nil, false
	}
	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	out := make([]model.Question, 0, len(order))
	for _, id := range order {
		q, ok := byID[id]
		if !ok {
			return nil, false
		}
		delete(byID, id)
		out = append(out, q)
	}
	return out, true
}

// QuestionIDs lists question IDs in order.
func QuestionIDs(questions []model.Question) []string {
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	return ids
}
