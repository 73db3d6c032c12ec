package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// QueueRepository hands work to the background workers and publishes live
// monitor events.
type QueueRepository struct {
	rdb *redis.Client
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(rdb *redis.Client) *QueueRepository {
	return &QueueRepository{rdb: rdb}
}

// PushAnswer queues an answer change for the autosave worker.
func (r *QueueRepository) PushAnswer(ctx context.Context, p model.AnswerProgress) error {
	return r.push(ctx, config.WorkerKey.PersistAnswersQueue, p)
}

// PushActivity queues suspicious-activity events for the activity worker.
func (r *QueueRepository) PushActivity(ctx context.Context, events []model.ActivityRecord) error {
	if len(events) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(events))
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		values = append(values, raw)
	}
	return r.rdb.RPush(ctx, config.WorkerKey.PersistActivityQueue, values...).Err()
}

// PushScore queues a grading result for the scoring worker.
func (r *QueueRepository) PushScore(ctx context.Context, s model.ScoreRecord) error {
	return r.push(ctx, config.WorkerKey.PersistScoresQueue, s)
}

// Publish sends a monitor event on the exam's Pub/Sub channel.
func (r *QueueRepository) Publish(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), raw).Err()
}

func (r *QueueRepository) push(ctx context.Context, queue string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.rdb.RPush(ctx, queue, raw).Err()
}
