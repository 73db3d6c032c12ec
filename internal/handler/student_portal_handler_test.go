package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

var examID = uuid.MustParse("0b8a3c55-7d1e-4b2a-9f60-3e5d2c1a4b77")

type stubExams struct{ exam *model.Exam }

func (s stubExams) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	if s.exam == nil || s.exam.ID != id {
		return nil, pgx.ErrNoRows
	}
	cp := *s.exam
	return &cp, nil
}

type stubQuestions struct{}

func (stubQuestions) ListQuestions(_ context.Context, id uuid.UUID) ([]model.Question, error) {
	one := model.ChoiceAnswer(1)
	return []model.Question{
		{ID: "q1", ExamID: id, Kind: model.QuestionKindMultipleChoice, Text: "2+2?", Options: []string{"3", "4"}, Correct: &one, Points: 1},
		{ID: "q2", ExamID: id, Kind: model.QuestionKindShortAnswer, Text: "Name a gas.", Points: 1},
	}, nil
}

type stubStore struct {
	mu       sync.Mutex
	attempts map[string]*model.ExamSession
	stored   map[string]*model.Submission
	failing  bool
}

func newStubStore() *stubStore {
	return &stubStore{attempts: map[string]*model.ExamSession{}, stored: map[string]*model.Submission{}}
}

func (s *stubStore) GetByExamAndStudent(_ context.Context, examID uuid.UUID, studentID string) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[examID.String()+studentID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (s *stubStore) Create(_ context.Context, a *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = uuid.New()
	a.StartedAt = time.Now()
	cp := *a
	s.attempts[a.ExamID.String()+a.StudentID] = &cp
	return nil
}

func (s *stubStore) PutSubmission(_ context.Context, rec *model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("connection refused")
	}
	key := rec.ExamID.String() + rec.StudentID
	if _, ok := s.stored[key]; ok {
		return session.ErrAlreadySubmitted
	}
	s.stored[key] = rec
	return nil
}

func (s *stubStore) Exists(_ context.Context, examID uuid.UUID, studentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stored[examID.String()+studentID]
	return ok, nil
}

func (s *stubStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

type nopQueue struct{}

func (nopQueue) PushAnswer(context.Context, model.AnswerProgress) error { return nil }
func (nopQueue) PushActivity(context.Context, []model.ActivityRecord) error { return nil }
func (nopQueue) PushScore(context.Context, model.ScoreRecord) error { return nil }
func (nopQueue) Publish(context.Context, uuid.UUID, model.MonitorEvent) error { return nil }

type portalFixture struct {
	router *gin.Engine
	store  *stubStore
	token  string
}

func newPortalFixture(t *testing.T) *portalFixture {
	t.Helper()
	log := zerolog.Nop()
	store := newStubStore()
	exams := stubExams{exam: &model.Exam{ID: examID, Title: "Math", DurationMinutes: 15, EntryToken: "ABCD12", Status: model.ExamStatusPublished}}

	retry := session.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	svc := service.NewExamSessionService(
		exams, store, store,
		session.NewLoader(stubQuestions{}, nil, nil, log),
		session.NewFinalizer(store, nil, retry, log),
		nil, nopQueue{},
		service.SessionConfig{
			Session: session.Config{Thresholds: session.DefaultThresholds, Integrity: session.DefaultIntegrityPolicy},
			Runner:  service.RunnerConfig{TimerTick: time.Hour, SnapshotInterval: time.Hour},
		},
		log,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})

	auth := service.NewAuthService("secret", time.Hour)
	token, err := auth.GenerateToken(service.TokenTypeStudent, "student-9", nil)
	require.NoError(t, err)

	h := NewStudentPortalHandler(svc, log)
	r := gin.New()
	g := r.Group("/api/v1/student", middleware.RequireStudentJWT(auth))
	g.POST("/exams/:exam_id/session", h.StartSession)
	g.GET("/exams/:exam_id/session", h.GetSession)
	g.POST("/exams/:exam_id/submit", h.SubmitSession)
	return &portalFixture{router: r, store: store, token: token}
}

func (f *portalFixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var res response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return rec, res
}

func TestStudentPortalFlow(t *testing.T) {
	f := newPortalFixture(t)
	sessionPath := fmt.Sprintf("/api/v1/student/exams/%s/session", examID)
	submitPath := fmt.Sprintf("/api/v1/student/exams/%s/submit", examID)

	rec, res := f.do(t, http.MethodGet, sessionPath, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.ErrSessionNotFound, res.Error.Code)

	rec, res = f.do(t, http.MethodPost, sessionPath, map[string]string{"entry_token": "WRONG1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrInvalidEntryToken, res.Error.Code)

	rec, _ = f.do(t, http.MethodPost, sessionPath, map[string]string{"entry_token": "ABCD12"})
	require.Equal(t, http.StatusOK, rec.Code)
	var started struct {
		Data service.View `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Len(t, started.Data.Questions, 2)
	assert.Equal(t, 900, started.Data.Duration)
	assert.NotContains(t, rec.Body.String(), "correct", "answer keys are never sent to students")

	rec, res = f.do(t, http.MethodPost, submitPath, map[string]bool{"confirm": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrConfirmRequired, res.Error.Code)

	f.store.setFailing(true)
	rec, res = f.do(t, http.MethodPost, submitPath, map[string]bool{"confirm": true})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, response.ErrSubmissionFailed, res.Error.Code)

	f.store.setFailing(false)
	rec, _ = f.do(t, http.MethodPost, submitPath, map[string]bool{"confirm": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var submitted struct {
		Data struct {
			Submission model.Submission `json:"submission"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.Equal(t, model.SubmitTriggerManual, submitted.Data.Submission.Trigger)
	assert.Equal(t, "student-9", submitted.Data.Submission.StudentID)

	assert.Eventually(t, func() bool {
		rec, res := f.do(t, http.MethodPost, submitPath, map[string]bool{"confirm": true})
		return rec.Code == http.StatusConflict && res.Error.Code == response.ErrAlreadySubmitted
	}, time.Second, 10*time.Millisecond)

	rec, res = f.do(t, http.MethodPost, sessionPath, map[string]string{"entry_token": "ABCD12"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, response.ErrAlreadySubmitted, res.Error.Code)
}

func TestStudentPortalRejectsBadExamID(t *testing.T) {
	f := newPortalFixture(t)
	rec, res := f.do(t, http.MethodPost, "/api/v1/student/exams/not-a-uuid/session", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrInvalidID, res.Error.Code)
}

func TestSessionErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrExamNotFound, http.StatusNotFound, response.ErrExamNotFound},
		{service.ErrShuttingDown, http.StatusServiceUnavailable, response.ErrServiceShutdown},
		{fmt.Errorf("load: %w", session.ErrNoQuestions), http.StatusUnprocessableEntity, response.ErrNoQuestions},
		{session.ErrInvalidAnswer, http.StatusBadRequest, response.ErrInvalidAnswer},
		{session.ErrSessionClosed, http.StatusConflict, response.ErrSessionClosed},
		{session.ErrSubmitInFlight, http.StatusConflict, response.ErrSubmitInFlight},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := sessionError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}

	status, code := submitError(errors.New("connection refused"))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, response.ErrSubmissionFailed, code)
}
