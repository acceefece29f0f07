// Package session resolves bearer tokens to the signed-in worker. Sessions live
// in Redis with a TTL and are cached in-process for a short time.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/redis/go-redis/v9"
)

var ErrUnauthenticated = errors.New("unauthenticated")

const keyPrefix = "session:"

type Options struct {
	TTL          time.Duration
	CacheTTL     time.Duration
	CacheMaxCost int64
}

type Store struct {
	client *redis.Client
	cache  *ristretto.Cache[string, models.Worker]
	opts   Options
}

// Small caches still need enough admission counters to track hit frequency.
const minCounters = 100

func NewStore(client *redis.Client, opts Options) (*Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	if opts.CacheMaxCost <= 0 {
		opts.CacheMaxCost = 1 << 20
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, models.Worker]{
		NumCounters: max(opts.CacheMaxCost/10, minCounters),
		MaxCost:     opts.CacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}

	return &Store{client: client, cache: cache, opts: opts}, nil
}

func (s *Store) Create(ctx context.Context, w models.Worker) (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	token := uuid.New().String()
	if err := s.client.Set(ctx, keyPrefix+token, data, s.opts.TTL).Err(); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	return token, nil
}

func (s *Store) Resolve(ctx context.Context, token string) (models.Worker, error) {
	if token == "" {
		return models.Worker{}, ErrUnauthenticated
	}

	if w, ok := s.cache.Get(token); ok {
		return w, nil
	}

	data, err := s.client.Get(ctx, keyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Worker{}, ErrUnauthenticated
	}
	if err != nil {
		return models.Worker{}, fmt.Errorf("failed to load session: %w", err)
	}

	var w models.Worker
	if err := json.Unmarshal(data, &w); err != nil {
		return models.Worker{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if s.opts.CacheTTL > 0 {
		s.cache.SetWithTTL(token, w, 1, s.cacheTTL(ctx, token))
	}

	return w, nil
}

func (s *Store) Revoke(ctx context.Context, token string) error {
	s.cache.Del(token)

	if err := s.client.Del(ctx, keyPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	return nil
}

// cacheTTL never lets the cached entry outlive the Redis key.
func (s *Store) cacheTTL(ctx context.Context, token string) time.Duration {
	ttl := s.opts.CacheTTL
	remaining, err := s.client.TTL(ctx, keyPrefix+token).Result()
	if err == nil && remaining > 0 && remaining < ttl {
		ttl = remaining
	}

	return ttl
}

// Wait blocks until buffered cache writes are applied.
func (s *Store) Wait() {
	s.cache.Wait()
}

func (s *Store) Close() {
	s.cache.Close()
}
