package worker

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

var activityColumns = []string{"exam_id", "student_id", "kind", "recorded_at"}

// ActivityWorker batches suspicious-activity events into exam_activity.
type ActivityWorker struct {
	pool *pgxpool.Pool
	c    *consumer[model.ActivityRecord]
}

func NewActivityWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ActivityWorker {
	w := &ActivityWorker{pool: pool}
	w.c = newConsumer(rdb, batchSink[model.ActivityRecord]{
		queue:      config.WorkerKey.PersistActivityQueue,
		flushBatch: w.copyBatch,
		flushOne:   w.insertOne,
	}, log.With().Str("component", "activity_worker").Logger())
	return w
}

// Start consumes the activity queue until ctx is cancelled.
func (w *ActivityWorker) Start(ctx context.Context) { w.c.run(ctx) }

// activityRows converts a batch into COPY rows.
func activityRows(batch []model.ActivityRecord) [][]interface{} {
	rows := make([][]interface{}, 0, len(batch))
	for _, r := range batch {
		rows = append(rows, []interface{}{r.ExamID, r.StudentID, string(r.Kind), r.Timestamp})
	}
	return rows
}

func (w *ActivityWorker) copyBatch(ctx context.Context, batch []model.ActivityRecord) error {
	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"exam_activity"}, activityColumns, pgx.CopyFromRows(activityRows(batch)))
	return err
}

func (w *ActivityWorker) insertOne(ctx context.Context, r model.ActivityRecord) error {
	_, err := w.pool.Exec(ctx,
		`INSERT INTO exam_activity (exam_id, student_id, kind, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		r.ExamID, r.StudentID, string(r.Kind), r.Timestamp,
	)
	return err
}
