package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis

	shutdownFlushTimeout = 5 * time.Second
	redisErrorPause      = 3 * time.Second
	requeuePause         = 2 * time.Second
)

// batchSink describes how one queue's payloads reach PostgreSQL.
type batchSink[T any] struct {
	queue string

	// flushBatch writes the whole batch in one round trip.
	flushBatch func(ctx context.Context, batch []T) error
	// flushOne is the row-by-row fallback after flushBatch fails.
	flushOne func(ctx context.Context, item T) error
	// afterFlush runs once a batch is stored. Optional.
	afterFlush func(ctx context.Context, batch []T)
}

// consumer drains a Redis list into a batchSink. Items are flushed when the
// batch fills or ages past batchTimeout. Rows that fail individually are
// pushed back to the tail of the queue; payloads that do not decode are moved
// to the dead letter list.
type consumer[T any] struct {
	rdb  *redis.Client
	sink batchSink[T]
	log  zerolog.Logger

	batchSize    int
	batchTimeout time.Duration
	pause        func(time.Duration)
}

func newConsumer[T any](rdb *redis.Client, sink batchSink[T], log zerolog.Logger) *consumer[T] {
	return &consumer[T]{
		rdb:          rdb,
		sink:         sink,
		log:          log.With().Str("queue", sink.queue).Logger(),
		batchSize:    BatchSize,
		batchTimeout: BatchTimeout,
		pause:        time.Sleep,
	}
}

// run blocks until ctx is cancelled, then drains what is left in the queue.
func (c *consumer[T]) run(ctx context.Context) {
	c.log.Info().Msg("Worker started")

	batch := make([]T, 0, c.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 && (len(batch) >= c.batchSize || time.Since(lastFlush) >= c.batchTimeout) {
			// A flush in progress finishes even if shutdown starts.
			c.flush(context.WithoutCancel(ctx), batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		if ctx.Err() != nil {
			c.shutdown(batch)
			return
		}

		res, err := c.rdb.BLPop(ctx, PollTimeout, c.sink.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Msg("Redis pop failed")
			c.pause(redisErrorPause)
			continue
		}
		if len(res) < 2 {
			continue
		}
		if item, ok := c.decode(ctx, res[1]); ok {
			batch = append(batch, item)
		}
	}
}

func (c *consumer[T]) decode(ctx context.Context, raw string) (T, bool) {
	var item T
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		c.log.Error().Err(err).Str("data", raw).Msg("Moving malformed payload to dead letter list")
		if err := c.rdb.RPush(ctx, config.WorkerKey.DeadLetter(c.sink.queue), raw).Err(); err != nil {
			c.log.Error().Err(err).Msg("Dead letter push failed, payload dropped")
		}
		return item, false
	}
	return item, true
}

// flush stores batch, falling back to one row at a time and requeueing the
// rows that still fail.
func (c *consumer[T]) flush(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	err := c.sink.flushBatch(ctx, batch)
	if err == nil {
		if c.sink.afterFlush != nil {
			c.sink.afterFlush(ctx, batch)
		}
		return
	}
	c.log.Warn().Err(err).Int("count", len(batch)).Msg("Batch write failed, retrying row by row")

	var failed []T
	var stored []T
	for _, item := range batch {
		if err := c.sink.flushOne(ctx, item); err != nil {
			c.log.Error().Err(err).Msg("Row write failed")
			failed = append(failed, item)
			continue
		}
		stored = append(stored, item)
	}
	if len(stored) > 0 && c.sink.afterFlush != nil {
		c.sink.afterFlush(ctx, stored)
	}
	if len(failed) > 0 {
		c.requeue(ctx, failed)
	}
}

func (c *consumer[T]) requeue(ctx context.Context, items []T) {
	pipe := c.rdb.Pipeline()
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, c.sink.queue, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: requeue failed, rows lost")
		return
	}
	c.log.Info().Int("count", len(items)).Msg("Requeued failed rows")
	// Back off so a database outage does not spin.
	c.pause(requeuePause)
}

// shutdown flushes the in-memory batch plus whatever is still queued.
func (c *consumer[T]) shutdown(batch []T) {
	c.log.Info().Msg("Worker stopping, draining queue")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()

	drained := 0
	for ctx.Err() == nil {
		raws, err := c.rdb.LPopCount(ctx, c.sink.queue, c.batchSize).Result()
		if err != nil || len(raws) == 0 {
			break
		}
		for _, raw := range raws {
			if item, ok := c.decode(ctx, raw); ok {
				batch = append(batch, item)
			}
		}
		drained += len(raws)
		if len(batch) >= c.batchSize {
			c.flush(ctx, batch)
			batch = batch[:0]
		}
	}
	c.flush(ctx, batch)

	c.log.Info().Int("drained", drained).Msg("Worker stopped")
}
