package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

// SubmissionRepository stores final submission records.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// PutSubmission writes rec if no record exists for the attempt yet. An
// existing record is left untouched and reported as session.ErrAlreadySubmitted.
func (r *SubmissionRepository) PutSubmission(ctx context.Context, rec *model.Submission) error {
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	activity, err := json.Marshal(rec.SuspiciousActivity)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	flagged := rec.FlaggedQuestionIDs
	if flagged == nil {
		flagged = []string{}
	}

	var id uuid.UUID
	err = r.pool.QueryRow(ctx,
		`INSERT INTO submissions (exam_id, student_id, answers, submitted_at, time_spent_seconds,
		                          flagged_question_ids, suspicious_activity, tab_switch_count, submit_trigger)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id`,
		rec.ExamID, rec.StudentID, answers, rec.SubmittedAt, rec.TimeSpentSeconds,
		flagged, activity, rec.TabSwitchCount, rec.Trigger,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.ErrAlreadySubmitted
	}
	return err
}

// Exists reports whether the attempt already has a submission.
func (r *SubmissionRepository) Exists(ctx context.Context, examID uuid.UUID, studentID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE exam_id = $1 AND student_id = $2)`,
		examID, studentID,
	).Scan(&exists)
	return exists, err
}
