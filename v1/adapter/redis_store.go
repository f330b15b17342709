package adapter

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/clearmind/pledge/v1/checkin"
	pledgeerrors "github.com/clearmind/pledge/v1/errors"
)

const (
	defaultRedisOpTimeout = 5 * time.Second
	defaultKeyPrefix      = "pledge:checkins:"
)

// RedisStore implements checkin.Store with one Redis hash per habit. Hash
// fields are days and values are JSON encoded check-ins.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
	prefix  string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithKeyPrefix sets the prefix of the per-habit hash keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, timeout: defaultRedisOpTimeout, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(habitID string) string {
	return s.prefix + habitID
}

// Push implements checkin.Store.Push using a transactional pipeline so a
// batch lands entirely or not at all.
func (s *RedisStore) Push(ctx context.Context, batch []checkin.CheckIn) error {
	if err := ctx.Err(); err != nil {
		return mapRedisErr(err)
	}
	if len(batch) == 0 {
		return nil
	}
	fields := make(map[string][]any)
	for _, c := range batch {
		if err := c.Validate(); err != nil {
			return err
		}
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		k := s.key(c.HabitID)
		fields[k] = append(fields[k], c.Day, data)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	pipe := s.client.TxPipeline()
	for k, values := range fields {
		pipe.HSet(cctx, k, values...)
	}
	if _, err := pipe.Exec(cctx); err != nil {
		return mapRedisErr(err)
	}
	return nil
}

// List implements checkin.Store.List.
func (s *RedisStore) List(ctx context.Context, habitID string) ([]checkin.CheckIn, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	values, err := s.client.HGetAll(cctx, s.key(habitID)).Result()
	if err != nil {
		return nil, mapRedisErr(err)
	}
	out := make([]checkin.CheckIn, 0, len(values))
	for _, raw := range values {
		var c checkin.CheckIn
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sortByDay(out)
	return out, nil
}

func mapRedisErr(err error) error {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return pledgeerrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return pledgeerrors.ErrConnectionClosed
	}
	return err
}
