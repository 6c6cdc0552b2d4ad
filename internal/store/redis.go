package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/fmx/matrix-engine/internal/model"
)

// RedisStore implements Store with one JSON value per user key. Records are
// kept without expiry; Redis persistence settings determine durability.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func positionsKey(userID string) string {
	return fmt.Sprintf("matrix:positions:%s", userID)
}

func (s *RedisStore) Save(ctx context.Context, userID string, positions []model.Position) error {
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("store: encode positions: %w", err)
	}
	return s.rdb.Set(ctx, positionsKey(userID), data, 0).Err()
}

func (s *RedisStore) Load(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read positions: %w", err)
	}

	var positions []model.Position
	if err := json.Unmarshal(data, &positions); err != nil {
		// Corrupt record: delete the key and report absence of prior state.
		slog.Warn("discarding corrupt position record", "user", userID, "err", err)
		s.rdb.Del(ctx, positionsKey(userID))
		return nil, nil
	}
	return positions, nil
}
