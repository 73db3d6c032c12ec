package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// questionCacheTTL bounds how long an exam's question payload is served from Redis.
const questionCacheTTL = 10 * time.Minute

// QuestionRepository reads exam questions, caching each exam's payload in Redis
// so a burst of students starting the same exam hits PostgreSQL once.
type QuestionRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewQuestionRepository creates a new QuestionRepository. rdb may be nil to
// disable caching.
func NewQuestionRepository(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *QuestionRepository {
	return &QuestionRepository{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "question_repository").Logger(),
	}
}

// ListQuestions returns the questions of an exam in authoring order.
func (r *QuestionRepository) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	key := config.CacheKey.ExamQuestionsKey(examID.String())

	if r.rdb != nil {
		raw, err := r.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var cached []model.Question
			if jerr := json.Unmarshal(raw, &cached); jerr == nil {
				return cached, nil
			}
			r.log.Warn().Str("exam_id", examID.String()).Msg("Discarding unreadable question cache")
		case !errors.Is(err, redis.Nil):
			r.log.Warn().Err(err).Msg("Question cache read failed, falling back to database")
		}
	}

	questions, err := r.listFromDB(ctx, examID)
	if err != nil {
		return nil, err
	}

	if r.rdb != nil && len(questions) > 0 {
		if raw, err := json.Marshal(questions); err == nil {
			if err := r.rdb.Set(ctx, key, raw, questionCacheTTL).Err(); err != nil {
				r.log.Warn().Err(err).Msg("Failed to cache questions")
			}
		}
	}
	return questions, nil
}

func (r *QuestionRepository) listFromDB(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, exam_id, kind, question_text, options, correct_answer, points, order_num
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q       model.Question
			correct []byte
		)
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Kind, &q.Text, &q.Options, &correct, &q.Points, &q.OrderNum); err != nil {
			return nil, err
		}
		if len(correct) > 0 {
			var a model.Answer
			if err := json.Unmarshal(correct, &a); err != nil {
				return nil, fmt.Errorf("question %s correct answer: %w", q.ID, err)
			}
			q.Correct = &a
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
