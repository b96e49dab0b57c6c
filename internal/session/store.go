package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const storeTimeout = 2 * time.Second

// Store persists the identity table so that a restarted server can still
// honour reconnects.
type Store interface {
	Save(ctx context.Context, id Identity) error
	Delete(ctx context.Context, id int) error
	LoadAll(ctx context.Context) ([]Identity, error)
}

type nopStore struct{}

func (nopStore) Save(context.Context, Identity) error         { return nil }
func (nopStore) Delete(context.Context, int) error            { return nil }
func (nopStore) LoadAll(context.Context) ([]Identity, error) { return nil, nil }

// RedisStore keeps one hash per table: field = identity id, value = JSON.
type RedisStore struct {
	rdb     *redis.Client
	tableID string
	ttl     time.Duration
}

func NewRedisStore(rdb *redis.Client, tableID string, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, tableID: tableID, ttl: ttl}
}

func (s *RedisStore) key() string {
	return fmt.Sprintf("table:%s:identities", s.tableID)
}

func (s *RedisStore) Save(ctx context.Context, id Identity) error {
	b, err := json.Marshal(id)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.key(), strconv.Itoa(id.ID), b)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id int) error {
	return s.rdb.HDel(ctx, s.key(), strconv.Itoa(id)).Err()
}

func (s *RedisStore) LoadAll(ctx context.Context) ([]Identity, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]Identity, 0, len(vals))
	for field, raw := range vals {
		var id Identity
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			return nil, fmt.Errorf("identity %s: %w", field, err)
		}
		out = append(out, id)
	}
	return out, nil
}
