package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// ScoringWorker records auto-grading results on submissions and closes the
// matching exam sessions.
type ScoringWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	c    *consumer[model.ScoreRecord]
}

func NewScoringWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ScoringWorker {
	w := &ScoringWorker{pool: pool, rdb: rdb}
	w.c = newConsumer(rdb, batchSink[model.ScoreRecord]{
		queue:      config.WorkerKey.PersistScoresQueue,
		flushBatch: w.updateBatch,
		flushOne:   w.updateOne,
		afterFlush: w.clearQuestionOrders,
	}, log.With().Str("component", "scoring_worker").Logger())
	return w
}

// Start consumes the scores queue until ctx is cancelled.
func (w *ScoringWorker) Start(ctx context.Context) { w.c.run(ctx) }

type scoreColumnSet struct {
	examIDs   []uuid.UUID
	students  []string
	scores    []int
	maxScores []int
	pending   []int
	gradedAt  []time.Time
	percent   []float64
}

// scoreColumns splits a batch into the parallel arrays fed to UNNEST.
func scoreColumns(batch []model.ScoreRecord) scoreColumnSet {
	n := len(batch)
	c := scoreColumnSet{
		examIDs:   make([]uuid.UUID, 0, n),
		students:  make([]string, 0, n),
		scores:    make([]int, 0, n),
		maxScores: make([]int, 0, n),
		pending:   make([]int, 0, n),
		gradedAt:  make([]time.Time, 0, n),
		percent:   make([]float64, 0, n),
	}
	for _, p := range batch {
		c.examIDs = append(c.examIDs, p.ExamID)
		c.students = append(c.students, p.StudentID)
		c.scores = append(c.scores, p.Score)
		c.maxScores = append(c.maxScores, p.MaxScore)
		c.pending = append(c.pending, p.PendingReview)
		c.gradedAt = append(c.gradedAt, p.GradedAt)
		c.percent = append(c.percent, percentScore(p.Score, p.MaxScore))
	}
	return c
}

func percentScore(score, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	return float64(score) / float64(maxScore) * 100
}

// updateBatch grades the submissions and completes their sessions in one
// transaction.
func (w *ScoringWorker) updateBatch(ctx context.Context, batch []model.ScoreRecord) error {
	c := scoreColumns(batch)

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE submissions AS s
		SET score = t.score,
		    max_score = t.max_score,
		    pending_review = t.pending,
		    graded_at = t.graded_at
		FROM UNNEST(
			$1::uuid[],
			$2::text[],
			$3::int[],
			$4::int[],
			$5::int[],
			$6::timestamptz[]
		) AS t (exam_id, student_id, score, max_score, pending, graded_at)
		WHERE s.exam_id = t.exam_id
		  AND s.student_id = t.student_id`,
		c.examIDs, c.students, c.scores, c.maxScores, c.pending, c.gradedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE exam_sessions AS s
		SET status = 'COMPLETED',
		    final_score = t.score,
		    finished_at = t.finished_at
		FROM UNNEST(
			$1::uuid[],
			$2::text[],
			$3::float8[],
			$4::timestamptz[]
		) AS t (exam_id, student_id, score, finished_at)
		WHERE s.exam_id = t.exam_id
		  AND s.student_id = t.student_id`,
		c.examIDs, c.students, c.percent, c.gradedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// clearQuestionOrders drops the cached orders of closed attempts.
func (w *ScoringWorker) clearQuestionOrders(ctx context.Context, batch []model.ScoreRecord) {
	keys := make([]string, 0, len(batch))
	for _, p := range batch {
		keys = append(keys, config.CacheKey.StudentQuestionOrderKey(p.ExamID.String(), p.StudentID))
	}
	_ = w.rdb.Del(ctx, keys...).Err()
}

func (w *ScoringWorker) updateOne(ctx context.Context, p model.ScoreRecord) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE submissions
		 SET score = $1, max_score = $2, pending_review = $3, graded_at = $4
		 WHERE exam_id = $5 AND student_id = $6`,
		p.Score, p.MaxScore, p.PendingReview, p.GradedAt, p.ExamID, p.StudentID,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = 'COMPLETED', final_score = $1, finished_at = $2
		 WHERE exam_id = $3 AND student_id = $4`,
		percentScore(p.Score, p.MaxScore), p.GradedAt, p.ExamID, p.StudentID,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
