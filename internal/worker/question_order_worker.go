package worker

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionOrderWorker writes shuffled question orders to exam_sessions so a
// resumed attempt keeps its order after the Redis copy expires. The first
// stored order wins; only a Replace record, written when the exam's questions
// changed, overwrites it.
type QuestionOrderWorker struct {
	pool *pgxpool.Pool
	c    *consumer[model.QuestionOrderRecord]
}

func NewQuestionOrderWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *QuestionOrderWorker {
	w := &QuestionOrderWorker{pool: pool}
	w.c = newConsumer(rdb, batchSink[model.QuestionOrderRecord]{
		queue:      config.WorkerKey.PersistQuestionOrderQueue,
		flushBatch: w.updateBatch,
		flushOne:   w.updateOne,
	}, log.With().Str("component", "question_order_worker").Logger())
	return w
}

// Start consumes the question order queue until ctx is cancelled.
func (w *QuestionOrderWorker) Start(ctx context.Context) { w.c.run(ctx) }

// orderColumns splits a batch into the parallel arrays fed to UNNEST.
func orderColumns(batch []model.QuestionOrderRecord) ([]uuid.UUID, []string, [][]byte, []bool) {
	examIDs := make([]uuid.UUID, len(batch))
	students := make([]string, len(batch))
	orders := make([][]byte, len(batch))
	replace := make([]bool, len(batch))
	for i, p := range batch {
		examIDs[i] = p.ExamID
		students[i] = p.StudentID
		orders[i], _ = json.Marshal(p.Order)
		replace[i] = p.Replace
	}
	return examIDs, students, orders, replace
}

func (w *QuestionOrderWorker) updateBatch(ctx context.Context, batch []model.QuestionOrderRecord) error {
	examIDs, students, orders, replace := orderColumns(batch)
	_, err := w.pool.Exec(ctx, `
		UPDATE exam_sessions AS s
		SET question_order = t.qo
		FROM UNNEST($1::uuid[], $2::text[], $3::jsonb[], $4::bool[]) AS t (exam_id, student_id, qo, replace)
		WHERE s.exam_id = t.exam_id
		  AND s.student_id = t.student_id
		  AND (s.question_order IS NULL OR t.replace)`,
		examIDs, students, orders, replace)
	return err
}

func (w *QuestionOrderWorker) updateOne(ctx context.Context, p model.QuestionOrderRecord) error {
	order, err := json.Marshal(p.Order)
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx,
		`UPDATE exam_sessions SET question_order = $1
		 WHERE exam_id = $2 AND student_id = $3 AND (question_order IS NULL OR $4)`,
		order, p.ExamID, p.StudentID, p.Replace,
	)
	return err
}
