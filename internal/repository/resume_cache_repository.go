package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
)

// ResumeCacheRepository keeps each attempt's in-progress snapshot in Redis.
// Entries expire on their own so an abandoned attempt does not linger.
type ResumeCacheRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResumeCacheRepository creates a new ResumeCacheRepository.
func NewResumeCacheRepository(rdb *redis.Client, ttl time.Duration) *ResumeCacheRepository {
	return &ResumeCacheRepository{rdb: rdb, ttl: ttl}
}

// Load returns the stored snapshot, or nil when there is none.
func (r *ResumeCacheRepository) Load(ctx context.Context, examID uuid.UUID, studentID string) ([]byte, error) {
	data, err := r.rdb.Get(ctx, config.CacheKey.ResumeSnapshotKey(examID.String(), studentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

// Save overwrites the snapshot and refreshes its expiry.
func (r *ResumeCacheRepository) Save(ctx context.Context, examID uuid.UUID, studentID string, data []byte) error {
	return r.rdb.Set(ctx, config.CacheKey.ResumeSnapshotKey(examID.String(), studentID), data, r.ttl).Err()
}

// Delete removes the snapshot. Deleting a missing snapshot is not an error.
func (r *ResumeCacheRepository) Delete(ctx context.Context, examID uuid.UUID, studentID string) error {
	return r.rdb.Del(ctx, config.CacheKey.ResumeSnapshotKey(examID.String(), studentID)).Err()
}
