package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/deskflow/pkg/delayqueue"
	"github.com/dukex/deskflow/pkg/locker"
	"github.com/redis/go-redis/v9"
)

// Coordination is the cross-process state of the engine: the delay queue
// and the per-entity lock.
type Coordination struct {
	Delays delayqueue.Queue
	Locker locker.Locker
	client *redis.Client
}

// NewCoordination connects to Redis when redisURL is set. Without it, the
// engine keeps delays in process and locks locally, which is only correct
// for a single engine process.
func NewCoordination(ctx context.Context, logger *slog.Logger, redisURL string) (*Coordination, error) {
	if redisURL == "" {
		logger.WarnContext(ctx, "No Redis configured; delays wait in process and locks are local")

		return &Coordination{Locker: locker.NewLocal()}, nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return &Coordination{
		Delays: delayqueue.NewRedis(client, delayqueue.DefaultKey, logger),
		Locker: locker.NewRedis(client, logger),
		client: client,
	}, nil
}

func (c *Coordination) Close() error {
	if c.client == nil {
		return nil
	}

	return c.client.Close()
}
