package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

const examColumns = `id, title, subject, duration_minutes, entry_token, status, scheduled_start, scheduled_end`

// ExamRepository reads exams. They are authored by the exam management
// service; this service never writes them.
type ExamRepository struct {
	pool *pgxpool.Pool
}

func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID returns pgx.ErrNoRows for an unknown exam.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.Exam])
}

// ListAvailable returns every exam students may currently take, earliest
// scheduled first.
func (r *ExamRepository) ListAvailable(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE status IN ($1, $2)
		 ORDER BY scheduled_start NULLS LAST`,
		model.ExamStatusPublished, model.ExamStatusInProgress,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[model.Exam])
}
