package worker

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

const (
	deleteAnswerSQL = `DELETE FROM student_answers
		WHERE exam_id = $1 AND student_id = $2 AND question_id = $3::uuid
		  AND updated_at <= $4`

	// Older updates never overwrite newer ones when a retry lands late.
	upsertAnswerSQL = `INSERT INTO student_answers (exam_id, student_id, question_id, answer, updated_at)
		VALUES ($1, $2, $3::uuid, $4, $5)
		ON CONFLICT (exam_id, student_id, question_id) DO UPDATE
		SET answer = EXCLUDED.answer, updated_at = EXCLUDED.updated_at
		WHERE student_answers.updated_at <= EXCLUDED.updated_at`
)

// AutosaveWorker mirrors answer progress into student_answers, which feeds the
// proctor monitor. The in-memory session stays authoritative.
type AutosaveWorker struct {
	pool *pgxpool.Pool
	c    *consumer[model.AnswerProgress]
}

func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	w := &AutosaveWorker{pool: pool}
	w.c = newConsumer(rdb, batchSink[model.AnswerProgress]{
		queue:      config.WorkerKey.PersistAnswersQueue,
		flushBatch: w.saveBatch,
		flushOne:   w.saveOne,
	}, log.With().Str("component", "autosave_worker").Logger())
	return w
}

// Start consumes the answers queue until ctx is cancelled.
func (w *AutosaveWorker) Start(ctx context.Context) { w.c.run(ctx) }

// saveBatch sends every statement in one pgx batch inside a transaction.
func (w *AutosaveWorker) saveBatch(ctx context.Context, batch []model.AnswerProgress) error {
	b := &pgx.Batch{}
	for _, p := range batch {
		sql, args, err := answerStatement(p)
		if err != nil {
			return err
		}
		b.Queue(sql, args...)
	}
	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
}

func (w *AutosaveWorker) saveOne(ctx context.Context, p model.AnswerProgress) error {
	sql, args, err := answerStatement(p)
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx, sql, args...)
	return err
}

// answerStatement maps one progress update to its SQL. A nil answer means the
// student cleared the question.
func answerStatement(p model.AnswerProgress) (string, []interface{}, error) {
	if p.Answer == nil {
		return deleteAnswerSQL, []interface{}{p.ExamID, p.StudentID, p.QuestionID, p.UpdatedAt}, nil
	}
	answer, err := json.Marshal(p.Answer)
	if err != nil {
		return "", nil, err
	}
	return upsertAnswerSQL, []interface{}{p.ExamID, p.StudentID, p.QuestionID, answer, p.UpdatedAt}, nil
}
