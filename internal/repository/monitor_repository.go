package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// MonitorRepository provides data access for the live exam monitoring feature.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListSessions returns every attempt of the exam, newest first.
func (r *MonitorRepository) ListSessions(ctx context.Context, examID uuid.UUID) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, started_at, finished_at, status, final_score
		 FROM exam_sessions
		 WHERE exam_id = $1
		 ORDER BY started_at DESC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		var s model.ExamSession
		if err := rows.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StartedAt, &s.FinishedAt, &s.Status, &s.FinalScore); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetAnsweredCounts returns the count of answered questions for every student
// who has at least one answer recorded in the given exam.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, examID uuid.UUID) (map[string]int64, error) {
	return r.countByStudent(ctx,
		`SELECT student_id, COUNT(*)
		 FROM student_answers
		 WHERE exam_id = $1
		 GROUP BY student_id`, examID)
}

// GetActivityCounts returns the number of suspicious-activity events recorded
// for each student in the given exam.
func (r *MonitorRepository) GetActivityCounts(ctx context.Context, examID uuid.UUID) (map[string]int64, error) {
	return r.countByStudent(ctx,
		`SELECT student_id, COUNT(*)
		 FROM exam_activity
		 WHERE exam_id = $1
		 GROUP BY student_id`, examID)
}

func (r *MonitorRepository) countByStudent(ctx context.Context, query string, examID uuid.UUID) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, query, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var sid string
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}
