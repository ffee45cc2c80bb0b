package locker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
	keyPrefix    = "deskflow:lock:"
)

// Only the holder's token may extend or delete the key.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0`)

	refreshScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0`)
)

// Redis is a lease lock shared between processes. The lease is refreshed
// while held, so a crashed holder frees the key after one TTL.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

type RedisOption func(*Redis)

func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

func WithRetryInterval(interval time.Duration) RedisOption {
	return func(r *Redis) {
		r.retry = interval
	}
}

func NewRedis(client redis.UniversalClient, logger *slog.Logger, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		ttl:    defaultTTL,
		retry:  defaultRetry,
		logger: logger.With("module", "locker"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	key = keyPrefix + key
	token := uuid.New().String()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		acquired, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}

		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	go r.refresh(key, token, stop, done)

	var once sync.Once

	return func() {
		once.Do(func() {
			close(stop)
			<-done

			releaseCtx, cancel := context.WithTimeout(context.Background(), r.ttl)
			defer cancel()

			err := releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err()
			if err != nil {
				r.logger.ErrorContext(releaseCtx, "Failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}

func (r *Redis) refresh(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			err := refreshScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Err()
			cancel()

			if err != nil {
				r.logger.Error("Failed to refresh lock", "key", key, "error", err)
			}
		}
	}
}
