package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

type examCatalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListAvailable(ctx context.Context) ([]model.Exam, error)
}

// ExamService reads exams for the student and proctor surfaces.
type ExamService struct {
	exams     examCatalog
	questions session.QuestionSource
	log       zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(exams examCatalog, questions session.QuestionSource, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		log:       log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	return exam, err
}

// PrewarmAllCaches loads the questions of every available exam into Redis
// on application startup, so the first wave of students starting an exam
// does not stampede PostgreSQL.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.exams.ListAvailable(ctx)
	if err != nil {
		return fmt.Errorf("list available exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No available exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming available exams...")

	warmed := 0
	for i := range exams {
		questions, err := s.questions.ListQuestions(ctx, exams[i].ID)
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		if len(questions) == 0 {
			s.log.Warn().Str("exam_id", exams[i].ID.String()).Msg("Available exam has no questions")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// QuestionCount returns the number of questions in an exam, read through
// the question cache.
func (s *ExamService) QuestionCount(ctx context.Context, examID uuid.UUID) (int, error) {
	questions, err := s.questions.ListQuestions(ctx, examID)
	if err != nil {
		return 0, err
	}
	return len(questions), nil
}
