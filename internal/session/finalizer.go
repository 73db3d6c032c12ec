package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// SubmissionStore persists final records. PutSubmission is create-only and
// returns ErrAlreadySubmitted when a record for the attempt already exists.
type SubmissionStore interface {
	PutSubmission(ctx context.Context, rec *model.Submission) error
}

// RetryPolicy bounds how hard a submission is retried before the failure is
// surfaced to the student.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when no override is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Finalizer writes submission records and discards the resume snapshot once
// a record is safely stored.
type Finalizer struct {
	store SubmissionStore
	cache ResumeCache
	retry RetryPolicy
	log   zerolog.Logger
}

// NewFinalizer creates a Finalizer. cache may be nil.
func NewFinalizer(store SubmissionStore, cache ResumeCache, retry RetryPolicy, log zerolog.Logger) *Finalizer {
	return &Finalizer{
		store: store,
		cache: cache,
		retry: retry,
		log:   log.With().Str("component", "submission_finalizer").Logger(),
	}
}

// Persist stores rec, retrying transient failures with exponential backoff.
// A conflict from the create-only write means an earlier attempt already
// landed and counts as success. The resume snapshot is deleted only after the
// record is stored.
func (f *Finalizer) Persist(ctx context.Context, rec *model.Submission) error {
	attempt := 0
	op := func() error {
		attempt++
		err := f.store.PutSubmission(ctx, rec)
		if errors.Is(err, ErrAlreadySubmitted) {
			f.log.Info().
				Str("exam_id", rec.ExamID.String()).
				Str("student_id", rec.StudentID).
				Msg("Submission already stored")
			return nil
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		f.log.Warn().Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Str("exam_id", rec.ExamID.String()).
			Str("student_id", rec.StudentID).
			Msg("Submission write failed, retrying")
	}

	if err := backoff.RetryNotify(op, f.retry.backOff(ctx), notify); err != nil {
		return fmt.Errorf("persist submission after %d attempts: %w", attempt, err)
	}

	if f.cache != nil {
		if err := f.cache.Delete(ctx, rec.ExamID, rec.StudentID); err != nil {
			f.log.Warn().Err(err).Str("student_id", rec.StudentID).Msg("Failed to clear resume snapshot")
		}
	}
	return nil
}

// Submit finalizes s synchronously. Repeat calls, from either trigger, are
// no-ops that return the record built by the first call.
func (f *Finalizer) Submit(ctx context.Context, s *Session, trigger model.SubmitTrigger) (*model.Submission, error) {
	rec, err := s.BeginSubmit(trigger)
	switch {
	case errors.Is(err, ErrAlreadySubmitted), errors.Is(err, ErrSubmitInFlight):
		return rec, nil
	case err != nil:
		return nil, err
	}

	perr := f.Persist(ctx, rec)
	s.CompleteSubmit(perr)
	if perr != nil {
		return rec, perr
	}
	return rec, nil
}
