package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/digkill/mangaforge/internal/models"
)

const accountKeyPrefix = "mangaforge:account:"

// RedisAccountRepository is the remote tier when REMOTE_STORE=redis. Each account is one hash.
type RedisAccountRepository struct {
	client *redis.Client
}

func NewRedisAccountRepository(client *redis.Client) *RedisAccountRepository {
	return &RedisAccountRepository{client: client}
}

func (r *RedisAccountRepository) Load(ctx context.Context, accountID string) (*models.AccountRecord, error) {
	fields, err := r.client.HGetAll(ctx, accountKeyPrefix+accountID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account hash: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := models.AccountRecord{AccountID: accountID}
	planID, err := strconv.Atoi(fields["plan_id"])
	if err != nil {
		return nil, fmt.Errorf("parse plan_id: %w", err)
	}
	rec.PlanID = planID
	if rec.Diamonds, err = strconv.ParseInt(fields["diamonds"], 10, 64); err != nil {
		return nil, fmt.Errorf("parse diamonds: %w", err)
	}
	if rec.Rubies, err = strconv.ParseInt(fields["rubies"], 10, 64); err != nil {
		return nil, fmt.Errorf("parse rubies: %w", err)
	}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		rec.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return &rec, nil
}

func (r *RedisAccountRepository) Save(ctx context.Context, rec models.AccountRecord) error {
	err := r.client.HSet(ctx, accountKeyPrefix+rec.AccountID,
		"plan_id", rec.PlanID,
		"diamonds", rec.Diamonds,
		"rubies", rec.Rubies,
		"updated_at", time.Now().UTC().UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("save account hash: %w", err)
	}
	return nil
}

func (r *RedisAccountRepository) Name() string {
	return "redis"
}
