package position

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/go-redis/redis/v8"

	"PositionSentinel/internal/model"
)

// DefaultRedisKey is where RedisStore keeps the position.
const DefaultRedisKey = "sentinel:position"

// RedisStore keeps the position under a single Redis key.
type RedisStore struct {
	rdb     *goredis.Client
	key     string
	timeout time.Duration
}

// NewRedisStore creates a RedisStore using rdb.
func NewRedisStore(rdb *goredis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key, timeout: 2 * time.Second}
}

func (s *RedisStore) Load() (*model.Position, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get position")
	}
	var pos model.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, errors.Wrap(err, "decode position")
	}
	return &pos, nil
}

func (s *RedisStore) Save(pos model.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.rdb.Set(ctx, s.key, data, 0).Err()
}

func (s *RedisStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.rdb.Del(ctx, s.key).Err()
}
