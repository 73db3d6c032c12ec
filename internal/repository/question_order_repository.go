package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// durableOrders is the PostgreSQL fallback for question orders.
type durableOrders interface {
	LoadOrder(ctx context.Context, examID uuid.UUID, studentID string) ([]string, error)
}

// QuestionOrderRepository caches each attempt's shuffled order in Redis and
// queues it for durable storage by the question order worker.
type QuestionOrderRepository struct {
	rdb     *redis.Client
	durable durableOrders
	ttl     time.Duration
}

// NewQuestionOrderRepository creates a new QuestionOrderRepository. durable may
// be nil, in which case a cache miss means no stored order.
func NewQuestionOrderRepository(rdb *redis.Client, durable durableOrders, ttl time.Duration) *QuestionOrderRepository {
	return &QuestionOrderRepository{rdb: rdb, durable: durable, ttl: ttl}
}

// LoadOrder returns the stored order, or nil when none exists.
func (r *QuestionOrderRepository) LoadOrder(ctx context.Context, examID uuid.UUID, studentID string) ([]string, error) {
	key := config.CacheKey.StudentQuestionOrderKey(examID.String(), studentID)

	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var order []string
		if err := json.Unmarshal(raw, &order); err != nil {
			return nil, err
		}
		return order, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	// Cache miss: fall back to PostgreSQL, the source of truth.
	if r.durable == nil {
		return nil, nil
	}
	order, err := r.durable.LoadOrder(ctx, examID, studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil || len(order) == 0 {
		return nil, err
	}

	// Self-heal the cache so the next load is fast. A concurrent save keeps
	// its value; PostgreSQL already holds the first order.
	if raw, err := json.Marshal(order); err == nil {
		_ = r.rdb.SetNX(ctx, key, raw, r.ttl).Err()
	}
	return order, nil
}

// SaveOrder stores order unless the attempt already has one, and returns the
// order that is now stored. Concurrent starts of one attempt therefore agree
// on a single order. Only the winning order is queued for persistence.
func (r *QuestionOrderRepository) SaveOrder(ctx context.Context, examID uuid.UUID, studentID string, order []string) ([]string, error) {
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	key := config.CacheKey.StudentQuestionOrderKey(examID.String(), studentID)

	created, err := r.rdb.SetNX(ctx, key, raw, r.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !created {
		stored, err := r.rdb.Get(ctx, key).Bytes()
		if err != nil {
			return nil, err
		}
		var winner []string
		if err := json.Unmarshal(stored, &winner); err != nil {
			return nil, err
		}
		return winner, nil
	}

	if err := r.queue(ctx, model.QuestionOrderRecord{ExamID: examID, StudentID: studentID, Order: order}); err != nil {
		return nil, err
	}
	return order, nil
}

// ReplaceOrder overwrites a stored order that no longer matches the exam's
// questions, in Redis and, through the worker, in PostgreSQL.
func (r *QuestionOrderRepository) ReplaceOrder(ctx context.Context, examID uuid.UUID, studentID string, order []string) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(model.QuestionOrderRecord{ExamID: examID, StudentID: studentID, Order: order, Replace: true})
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.StudentQuestionOrderKey(examID.String(), studentID), raw, r.ttl)
	pipe.RPush(ctx, config.WorkerKey.PersistQuestionOrderQueue, payload)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *QuestionOrderRepository) queue(ctx context.Context, rec model.QuestionOrderRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.rdb.RPush(ctx, config.WorkerKey.PersistQuestionOrderQueue, payload).Err()
}
