package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// GetByExamAndStudent retrieves a session for a specific exam-student combination.
func (r *ExamSessionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID string) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var order []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, started_at, finished_at, status, question_order, final_score
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StartedAt, &s.FinishedAt, &s.Status, &order, &s.FinalScore)
	if err != nil {
		return nil, err
	}
	if len(order) > 0 {
		_ = json.Unmarshal(order, &s.QuestionOrder)
	}
	return s, nil
}

// Create inserts a new exam session (student starts the exam). A concurrent
// start for the same attempt yields pgx.ErrNoRows.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id, started_at`,
		s.ExamID, s.StudentID, model.SessionStatusInProgress,
	).Scan(&s.ID, &s.StartedAt)
}

// LoadOrder returns the persisted question order of an attempt, or nil.
func (r *ExamSessionRepository) LoadOrder(ctx context.Context, examID uuid.UUID, studentID string) ([]string, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT question_order FROM exam_sessions WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&raw)
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	var order []string
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, err
	}
	return order, nil
}
