package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

type monitorStore interface {
	ListSessions(ctx context.Context, examID uuid.UUID) ([]model.ExamSession, error)
	GetAnsweredCounts(ctx context.Context, examID uuid.UUID) (map[string]int64, error)
	GetActivityCounts(ctx context.Context, examID uuid.UUID) (map[string]int64, error)
}

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	monitorRepo monitorStore
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo monitorStore) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// StudentProgress is one attempt as shown on the proctor monitor.
type StudentProgress struct {
	StudentID     string              `json:"student_id"`
	Status        model.SessionStatus `json:"status"`
	StartedAt     time.Time           `json:"started_at"`
	FinalScore    *float64            `json:"final_score,omitempty"`
	AnsweredCount int64               `json:"answered_count"`
	ActivityCount int64               `json:"activity_count"`
}

// ProgressSnapshot aggregates every attempt of an exam.
type ProgressSnapshot struct {
	TotalJoined     int               `json:"total_joined"`
	TotalInProgress int               `json:"total_in_progress"`
	TotalCompleted  int               `json:"total_completed"`
	TotalActivity   int64             `json:"total_activity"`
	Students        []StudentProgress `json:"students"`
}

// GetProgress returns every attempt with its answered and suspicious-activity
// counts. The three queries run concurrently; activity counts are
// best-effort.
func (s *MonitorService) GetProgress(ctx context.Context, examID uuid.UUID) (*ProgressSnapshot, error) {
	var (
		sessions       []model.ExamSession
		answeredCounts map[string]int64
		activityCounts map[string]int64
		sessionsErr    error
		answeredErr    error
		activityErr    error
		wg             sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		sessions, sessionsErr = s.monitorRepo.ListSessions(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		answeredCounts, answeredErr = s.monitorRepo.GetAnsweredCounts(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		activityCounts, activityErr = s.monitorRepo.GetActivityCounts(ctx, examID)
	}()
	wg.Wait()

	if sessionsErr != nil {
		return nil, sessionsErr
	}
	if answeredErr != nil {
		return nil, answeredErr
	}
	if activityErr != nil {
		activityCounts = nil
	}

	snapshot := &ProgressSnapshot{
		TotalJoined: len(sessions),
		Students:    make([]StudentProgress, 0, len(sessions)),
	}
	for _, sess := range sessions {
		switch sess.Status {
		case model.SessionStatusInProgress:
			snapshot.TotalInProgress++
		case model.SessionStatusCompleted:
			snapshot.TotalCompleted++
		}
		snapshot.Students = append(snapshot.Students, StudentProgress{
			StudentID:     sess.StudentID,
			Status:        sess.Status,
			StartedAt:     sess.StartedAt,
			FinalScore:    sess.FinalScore,
			AnsweredCount: answeredCounts[sess.StudentID],
			ActivityCount: activityCounts[sess.StudentID],
		})
	}
	for _, count := range activityCounts {
		snapshot.TotalActivity += count
	}
	return snapshot, nil
}
