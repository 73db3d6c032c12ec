package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first failures writes, then stores create-only.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	stored   []*model.Submission
}

func (f *flakyStore) PutSubmission(_ context.Context, rec *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset by peer")
	}
	if len(f.stored) > 0 {
		return ErrAlreadySubmitted
	}
	f.stored = append(f.stored, rec)
	return nil
}

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func startedSession(t *testing.T) *Session {
	t.Helper()
	s, err := newTestSession(newFakeClock(), 900, nil)
	require.NoError(t, err)
	_, err = s.Start()
	require.NoError(t, err)
	return s
}

func TestFinalizerSubmitIsIdempotent(t *testing.T) {
	store := &flakyStore{}
	cache := newMemCache()
	f := NewFinalizer(store, cache, fastRetry, zerolog.Nop())
	s := startedSession(t)
	require.NoError(t, cache.Save(context.Background(), testExamID, testStudentID, []byte("snapshot")))

	first, err := f.Submit(context.Background(), s, model.SubmitTriggerManual)
	require.NoError(t, err)
	second, err := f.Submit(context.Background(), s, model.SubmitTriggerTimeout)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, store.calls)
	assert.Len(t, store.stored, 1)
	assert.Equal(t, PhaseSubmitted, s.Phase())

	data, _ := cache.Load(context.Background(), testExamID, testStudentID)
	assert.Nil(t, data, "resume snapshot is cleared after persisting")
}

func TestFinalizerRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{failures: 2}
	f := NewFinalizer(store, newMemCache(), fastRetry, zerolog.Nop())
	s := startedSession(t)

	_, err := f.Submit(context.Background(), s, model.SubmitTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)
	assert.Len(t, store.stored, 1)
}

func TestFinalizerFailureKeepsStateForRetry(t *testing.T) {
	store := &flakyStore{failures: 3}
	cache := newMemCache()
	f := NewFinalizer(store, cache, fastRetry, zerolog.Nop())
	s := startedSession(t)
	require.NoError(t, cache.Save(context.Background(), testExamID, testStudentID, []byte("snapshot")))

	rec, err := f.Submit(context.Background(), s, model.SubmitTriggerTimeout)
	require.Error(t, err)
	assert.NotNil(t, rec)
	assert.Equal(t, PhaseSubmitFailed, s.Phase())
	assert.Equal(t, 0, cache.deletes, "snapshot survives a failed persist")

	// The next attempt succeeds with the same record.
	again, err := f.Submit(context.Background(), s, model.SubmitTriggerManual)
	require.NoError(t, err)
	assert.Same(t, rec, again)
	assert.Equal(t, PhaseSubmitted, s.Phase())
	assert.Equal(t, 1, cache.deletes)
}

func TestFinalizerTreatsConflictAsStored(t *testing.T) {
	store := &flakyStore{stored: []*model.Submission{{}}}
	cache := newMemCache()
	f := NewFinalizer(store, cache, fastRetry, zerolog.Nop())

	err := f.Persist(context.Background(), &model.Submission{ExamID: testExamID, StudentID: testStudentID})
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 1, cache.deletes)
}

func TestFinalizerStopsOnCancel(t *testing.T) {
	store := &flakyStore{failures: 100}
	f := NewFinalizer(store, nil, RetryPolicy{MaxAttempts: 100, InitialInterval: time.Hour, MaxInterval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.Persist(ctx, &model.Submission{ExamID: testExamID, StudentID: testStudentID})
	assert.Error(t, err)
	assert.LessOrEqual(t, store.calls, 1)
}
