package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trainops/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	trainerKeyPrefix = "trainer:"        // Live trainer data
	trainerSetKey    = "trainers:active" // Live trainer id set
)

// TrainerRepository tracks live trainer processes in Redis. Entries are
// ephemeral: each heartbeat rewrites the record with a TTL, so a trainer
// that stops reporting ages out on its own.
type TrainerRepository struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewTrainerRepository creates a trainer registry with the given heartbeat TTL.
func NewTrainerRepository(redisClient *RedisClient, ttl time.Duration) *TrainerRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TrainerRepository{
		redis: redisClient.GetClient(),
		ttl:   ttl,
	}
}

// Heartbeat records or refreshes a trainer entry.
func (r *TrainerRepository) Heartbeat(ctx context.Context, trainer *model.Trainer) error {
	key := trainerKeyPrefix + trainer.ID
	trainer.LastSeen = time.Now()

	data, err := json.Marshal(trainer)
	if err != nil {
		return fmt.Errorf("failed to marshal trainer: %w", err)
	}

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, key, data, r.ttl)
	pipe.SAdd(ctx, trainerSetKey, trainer.ID)
	pipe.Expire(ctx, trainerSetKey, r.ttl*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save trainer heartbeat: %w", err)
	}
	return nil
}

// Get retrieves one trainer entry. Returns (nil, nil) when the heartbeat
// has expired.
func (r *TrainerRepository) Get(ctx context.Context, trainerID string) (*model.Trainer, error) {
	data, err := r.redis.Get(ctx, trainerKeyPrefix+trainerID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trainer: %w", err)
	}

	var trainer model.Trainer
	if err := json.Unmarshal([]byte(data), &trainer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trainer: %w", err)
	}
	return &trainer, nil
}

// GetAll retrieves all live trainers in one pipeline round-trip. Expired
// ids found in the set are pruned as a side effect.
func (r *TrainerRepository) GetAll(ctx context.Context) ([]*model.Trainer, error) {
	trainerIDs, err := r.redis.SMembers(ctx, trainerSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get trainer set: %w", err)
	}
	if len(trainerIDs) == 0 {
		return []*model.Trainer{}, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(trainerIDs))
	for _, id := range trainerIDs {
		cmds = append(cmds, pipe.Get(ctx, trainerKeyPrefix+id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to batch get trainers: %w", err)
	}

	trainers := make([]*model.Trainer, 0, len(trainerIDs))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			// Heartbeat expired; drop the stale set member.
			r.redis.SRem(ctx, trainerSetKey, trainerIDs[i])
			continue
		}
		var trainer model.Trainer
		if err := json.Unmarshal([]byte(data), &trainer); err != nil {
			continue
		}
		trainers = append(trainers, &trainer)
	}
	return trainers, nil
}

// Count returns the number of live trainers.
func (r *TrainerRepository) Count(ctx context.Context) (int, error) {
	trainers, err := r.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(trainers), nil
}

// Remove deletes a trainer entry eagerly (normal shutdown path).
func (r *TrainerRepository) Remove(ctx context.Context, trainerID string) error {
	pipe := r.redis.Pipeline()
	pipe.Del(ctx, trainerKeyPrefix+trainerID)
	pipe.SRem(ctx, trainerSetKey, trainerID)
	_, err := pipe.Exec(ctx)
	return err
}
