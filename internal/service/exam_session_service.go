package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

// Exam session errors surfaced to handlers.
var (
	ErrExamNotFound      = errors.New("exam not found")
	ErrExamNotAvailable  = errors.New("exam is not available")
	ErrInvalidEntryToken = errors.New("invalid entry token")
	ErrSessionNotFound   = errors.New("no live session for this exam")
	ErrShuttingDown      = errors.New("server is shutting down")
)

type examStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

type attemptStore interface {
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID string) (*model.ExamSession, error)
	Create(ctx context.Context, s *model.ExamSession) error
}

type submissionChecker interface {
	Exists(ctx context.Context, examID uuid.UUID, studentID string) (bool, error)
}

// SessionConfig is the policy every session is built with.
type SessionConfig struct {
	Session session.Config
	Runner  RunnerConfig
}

type runnerKey struct {
	examID    uuid.UUID
	studentID string
}

// ExamSessionService starts, resumes and tracks live exam attempts. Each
// attempt is driven by one Runner kept in an in-process registry so a
// reconnecting client attaches to the running session.
type ExamSessionService struct {
	exams       examStore
	attempts    attemptStore
	submissions submissionChecker
	loader      *session.Loader
	finalizer   *session.Finalizer
	cache       session.ResumeCache
	queue       Queue
	cfg         SessionConfig
	log         zerolog.Logger

	mu      sync.Mutex
	runners map[runnerKey]*Runner
	closing bool
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	exams examStore,
	attempts attemptStore,
	submissions submissionChecker,
	loader *session.Loader,
	finalizer *session.Finalizer,
	cache session.ResumeCache,
	queue Queue,
	cfg SessionConfig,
	log zerolog.Logger,
) *ExamSessionService {
	if cfg.Session.Now == nil {
		cfg.Session.Now = time.Now
	}
	if cfg.Runner.Now == nil {
		cfg.Runner.Now = cfg.Session.Now
	}
	return &ExamSessionService{
		exams:       exams,
		attempts:    attempts,
		submissions: submissions,
		loader:      loader,
		finalizer:   finalizer,
		cache:       cache,
		queue:       queue,
		cfg:         cfg,
		log:         log.With().Str("component", "exam_session_service").Logger(),
		runners:     make(map[runnerKey]*Runner),
	}
}

// Start begins the student's attempt, or resumes it after a reload. The
// question order, the start time and the answers of a resumed attempt are
// restored; an attempt whose time ran out while away is submitted at once.
func (s *ExamSessionService) Start(ctx context.Context, examID uuid.UUID, studentID, entryToken string) (View, error) {
	if r := s.lookup(examID, studentID); r != nil {
		// A reload after a failed submit retries it; the view shows the
		// retry already in flight.
		r.RetryFailedSubmit()
		if v, err := r.View(ctx); err == nil {
			return v, nil
		}
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return View{}, ErrExamNotFound
		}
		return View{}, fmt.Errorf("get exam: %w", err)
	}
	if !exam.Available() {
		return View{}, ErrExamNotAvailable
	}
	if exam.EntryToken != "" && exam.EntryToken != entryToken {
		return View{}, ErrInvalidEntryToken
	}

	submitted, err := s.submissions.Exists(ctx, examID, studentID)
	if err != nil {
		return View{}, fmt.Errorf("check submission: %w", err)
	}
	if submitted {
		return View{}, session.ErrAlreadySubmitted
	}

	attempt, err := s.getOrCreateAttempt(ctx, examID, studentID)
	if err != nil {
		return View{}, err
	}
	if attempt.Status == model.SessionStatusCompleted {
		return View{}, session.ErrAlreadySubmitted
	}

	questions, err := s.loader.Load(ctx, examID, studentID)
	if err != nil {
		return View{}, err
	}

	elapsed := int(s.cfg.Session.Now().Sub(attempt.StartedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}

	sess, err := session.New(session.Params{
		ExamID:          examID,
		StudentID:       studentID,
		Questions:       questions,
		DurationSeconds: exam.DurationSeconds(),
		ElapsedSeconds:  elapsed,
		Restore:         s.loadSnapshot(ctx, examID, studentID),
	}, s.cfg.Session)
	if err != nil {
		return View{}, err
	}
	initial, err := sess.Start()
	if err != nil {
		return View{}, err
	}

	r, started := s.register(NewRunner(sess, s.finalizer, s.cache, s.queue, s.cfg.Runner, s.log))
	if r == nil {
		return View{}, ErrShuttingDown
	}
	if started {
		r.Run(initial)
	}
	return r.View(ctx)
}

func (s *ExamSessionService) getOrCreateAttempt(ctx context.Context, examID uuid.UUID, studentID string) (*model.ExamSession, error) {
	existing, err := s.attempts.GetByExamAndStudent(ctx, examID, studentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing session: %w", err)
	}

	attempt := &model.ExamSession{ExamID: examID, StudentID: studentID, Status: model.SessionStatusInProgress}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start from another tab or device.
			existing, fetchErr := s.attempts.GetByExamAndStudent(ctx, examID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return attempt, nil
}

// loadSnapshot returns the stored resume snapshot, treating an unreadable or
// corrupt one as absent.
func (s *ExamSessionService) loadSnapshot(ctx context.Context, examID uuid.UUID, studentID string) *session.Snapshot {
	if s.cache == nil {
		return nil
	}
	log := logger.ForSession(s.log, examID, studentID)

	data, err := s.cache.Load(ctx, examID, studentID)
	if err != nil {
		log.Warn().Err(err).Msg("Resume cache unavailable, starting without snapshot")
		return nil
	}
	if data == nil {
		return nil
	}
	snap, err := session.DecodeSnapshot(data, examID, studentID)
	if err != nil {
		log.Warn().Err(err).Msg("Discarding unreadable resume snapshot")
		return nil
	}
	log.Info().Int("answers", len(snap.Answers)).Msg("Restoring resume snapshot")
	return snap
}

// register stores r unless another start won the race, in which case the
// existing runner is returned and r is never run. It returns nil once
// shutdown has begun.
func (s *ExamSessionService) register(r *Runner) (*Runner, bool) {
	key := runnerKey{examID: r.sess.ExamID(), studentID: r.sess.StudentID()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, false
	}
	if existing, ok := s.runners[key]; ok {
		select {
		case <-existing.Done():
		default:
			return existing, false
		}
	}
	r.onExit = func(done *Runner) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.runners[key] == done {
			delete(s.runners, key)
		}
	}
	s.runners[key] = r
	return r, true
}

func (s *ExamSessionService) lookup(examID uuid.UUID, studentID string) *Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runners[runnerKey{examID: examID, studentID: studentID}]
}

// Runner returns the live runner of an attempt.
func (s *ExamSessionService) Runner(examID uuid.UUID, studentID string) (*Runner, error) {
	r := s.lookup(examID, studentID)
	if r == nil {
		return nil, ErrSessionNotFound
	}
	return r, nil
}

// View returns the current state of a live attempt.
func (s *ExamSessionService) View(ctx context.Context, examID uuid.UUID, studentID string) (View, error) {
	r, err := s.Runner(examID, studentID)
	if err != nil {
		return View{}, err
	}
	return r.View(ctx)
}

// Submit is the manual "confirm submit" path. Submitting an attempt that is
// already stored succeeds without writing again.
func (s *ExamSessionService) Submit(ctx context.Context, examID uuid.UUID, studentID string) (*model.Submission, error) {
	r := s.lookup(examID, studentID)
	if r == nil {
		submitted, err := s.submissions.Exists(ctx, examID, studentID)
		if err != nil {
			return nil, fmt.Errorf("check submission: %w", err)
		}
		if submitted {
			return nil, session.ErrAlreadySubmitted
		}
		return nil, ErrSessionNotFound
	}
	return r.Submit(ctx, model.SubmitTriggerManual)
}

// Shutdown stops every live runner, saving their resume snapshots. Attempts
// resume from those snapshots when the student reconnects.
func (s *ExamSessionService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closing = true
	runners := make([]*Runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			r.Stop()
		}(r)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Int("count", len(runners)).Msg("Session runners stopped")
	case <-ctx.Done():
		s.log.Warn().Msg("Timed out stopping session runners")
	}
}

// Live reports the number of running attempts.
func (s *ExamSessionService) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runners)
}
