package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

var testExamID = uuid.MustParse("c4d1e9a0-5b3f-4f7e-8d2a-6a0b1c9e7f33")

const testStudent = "student-7"

func scenarioQuestions() []model.Question {
	two := model.ChoiceAnswer(2)
	one := model.ChoiceAnswer(1)
	no := model.BoolAnswer(false)
	return []model.Question{
		{ID: "q1", ExamID: testExamID, Kind: model.QuestionKindMultipleChoice, Text: "Largest planet?", Options: []string{"Mars", "Venus", "Jupiter", "Earth"}, Correct: &two, Points: 1},
		{ID: "q2", ExamID: testExamID, Kind: model.QuestionKindMultipleChoice, Text: "H2O is?", Options: []string{"Salt", "Water", "Air", "Gold"}, Correct: &one, Points: 1},
		{ID: "q3", ExamID: testExamID, Kind: model.QuestionKindTrueFalse, Text: "Pluto is a planet.", Correct: &no, Points: 1},
	}
}

type fakeExams struct {
	exams map[uuid.UUID]*model.Exam
}

func (f *fakeExams) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExams) ListAvailable(context.Context) ([]model.Exam, error) {
	var out []model.Exam
	for _, e := range f.exams {
		if e.Available() {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeQuestions struct {
	mu     sync.Mutex
	byExam map[uuid.UUID][]model.Question
	calls  int
}

func (f *fakeQuestions) ListQuestions(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.byExam[examID], nil
}

type fakeAttempts struct {
	mu       sync.Mutex
	attempts map[string]*model.ExamSession
	now      func() time.Time
}

func (f *fakeAttempts) GetByExamAndStudent(_ context.Context, examID uuid.UUID, studentID string) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[examID.String()+studentID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAttempts) Create(_ context.Context, s *model.ExamSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := s.ExamID.String() + s.StudentID
	if _, ok := f.attempts[key]; ok {
		return pgx.ErrNoRows
	}
	s.ID = uuid.New()
	s.StartedAt = f.now()
	cp := *s
	f.attempts[key] = &cp
	return nil
}

func (f *fakeAttempts) put(examID uuid.UUID, studentID string, startedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[examID.String()+studentID] = &model.ExamSession{
		ID: uuid.New(), ExamID: examID, StudentID: studentID, StartedAt: startedAt, Status: model.SessionStatusInProgress,
	}
}

// fakeSubmissions is a create-only submission store that can be told to fail.
type fakeSubmissions struct {
	mu      sync.Mutex
	failing bool
	calls   int
	stored  map[string]*model.Submission
}

func (f *fakeSubmissions) PutSubmission(_ context.Context, rec *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return errors.New("connection refused")
	}
	key := rec.ExamID.String() + rec.StudentID
	if _, ok := f.stored[key]; ok {
		return session.ErrAlreadySubmitted
	}
	f.stored[key] = rec
	return nil
}

func (f *fakeSubmissions) Exists(_ context.Context, examID uuid.UUID, studentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.stored[examID.String()+studentID]
	return ok, nil
}

func (f *fakeSubmissions) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeSubmissions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func (f *fakeSubmissions) get(examID uuid.UUID, studentID string) *model.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[examID.String()+studentID]
}

type fakeQueue struct {
	mu       sync.Mutex
	answers  []model.AnswerProgress
	activity []model.ActivityRecord
	scores   []model.ScoreRecord
	events   []model.MonitorEvent
}

func (q *fakeQueue) PushAnswer(_ context.Context, p model.AnswerProgress) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.answers = append(q.answers, p)
	return nil
}

func (q *fakeQueue) PushActivity(_ context.Context, events []model.ActivityRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.activity = append(q.activity, events...)
	return nil
}

func (q *fakeQueue) PushScore(_ context.Context, s model.ScoreRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.scores = append(q.scores, s)
	return nil
}

func (q *fakeQueue) Publish(_ context.Context, _ uuid.UUID, ev model.MonitorEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return nil
}

func (q *fakeQueue) snapshot() ([]model.AnswerProgress, []model.ActivityRecord, []model.ScoreRecord, []model.MonitorEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.AnswerProgress(nil), q.answers...),
		append([]model.ActivityRecord(nil), q.activity...),
		append([]model.ScoreRecord(nil), q.scores...),
		append([]model.MonitorEvent(nil), q.events...)
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Load(_ context.Context, examID uuid.UUID, studentID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[examID.String()+studentID], nil
}

func (c *memCache) Save(_ context.Context, examID uuid.UUID, studentID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[examID.String()+studentID] = data
	return nil
}

func (c *memCache) Delete(_ context.Context, examID uuid.UUID, studentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, examID.String()+studentID)
	return nil
}

func (c *memCache) has(examID uuid.UUID, studentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[examID.String()+studentID]
	return ok
}

type harness struct {
	svc         *ExamSessionService
	exams       *fakeExams
	questions   *fakeQuestions
	attempts    *fakeAttempts
	submissions *fakeSubmissions
	queue       *fakeQueue
	cache       *memCache
}

type harnessOption func(*SessionConfig)

func withIntegrity(p session.IntegrityPolicy) harnessOption {
	return func(c *SessionConfig) { c.Session.Integrity = p }
}

func withTick(d time.Duration) harnessOption {
	return func(c *SessionConfig) { c.Runner.TimerTick = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		exams: &fakeExams{exams: map[uuid.UUID]*model.Exam{
			testExamID: {ID: testExamID, Title: "Science", DurationMinutes: 10, Status: model.ExamStatusPublished},
		}},
		questions:   &fakeQuestions{byExam: map[uuid.UUID][]model.Question{testExamID: scenarioQuestions()}},
		attempts:    &fakeAttempts{attempts: map[string]*model.ExamSession{}, now: time.Now},
		submissions: &fakeSubmissions{stored: map[string]*model.Submission{}},
		queue:       &fakeQueue{},
		cache:       &memCache{data: map[string][]byte{}},
	}

	cfg := SessionConfig{
		Session: session.Config{Thresholds: session.DefaultThresholds, Integrity: session.DefaultIntegrityPolicy},
		Runner:  RunnerConfig{TimerTick: time.Hour, SnapshotInterval: time.Hour},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	log := zerolog.Nop()
	loader := session.NewLoader(h.questions, nil, rand.New(rand.NewPCG(1, 2)), log)
	retry := session.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	finalizer := session.NewFinalizer(h.submissions, h.cache, retry, log)
	h.svc = NewExamSessionService(h.exams, h.attempts, h.submissions, loader, finalizer, h.cache, h.queue, cfg, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.svc.Shutdown(ctx)
	})
	return h
}

// collect drains signals until kind arrives or the deadline passes.
func collect(t *testing.T, ch <-chan session.Signal, kind session.SignalKind) []session.Signal {
	t.Helper()
	var got []session.Signal
	deadline := time.After(2 * time.Second)
	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, sig)
			if sig.Kind == kind {
				return got
			}
		case <-deadline:
			t.Fatalf("signal %s not received, got %v", kind, got)
			return got
		}
	}
}

func kinds(signals []session.Signal) []session.SignalKind {
	out := make([]session.SignalKind, len(signals))
	for i, s := range signals {
		out[i] = s.Kind
	}
	return out
}
