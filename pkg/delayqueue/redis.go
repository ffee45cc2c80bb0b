package delayqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "deskflow:delays"

// Redis keeps continuations in a sorted set scored by due time in
// milliseconds.
type Redis struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

func NewRedis(client redis.UniversalClient, key string, logger *slog.Logger) *Redis {
	if key == "" {
		key = DefaultKey
	}

	return &Redis{client: client, key: key, logger: logger.With("module", "delayqueue")}
}

func (r *Redis) Push(ctx context.Context, cont *models.Continuation) error {
	payload, err := json.Marshal(cont)
	if err != nil {
		return fmt.Errorf("failed to marshal continuation %s: %w", cont.ExecutionID, err)
	}

	err = r.client.ZAdd(ctx, r.key, redis.Z{
		Score:  float64(cont.ResumeAt.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push continuation %s: %w", cont.ExecutionID, err)
	}

	return nil
}

// PopDue reads and removes due members in one MULTI/EXEC so two pollers
// never receive the same continuation.
func (r *Redis) PopDue(ctx context.Context, now time.Time) ([]*models.Continuation, error) {
	maxScore := strconv.FormatInt(now.UnixMilli(), 10)

	var members *redis.StringSliceCmd

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.ZRangeByScore(ctx, r.key, &redis.ZRangeBy{Min: "-inf", Max: maxScore})
		pipe.ZRemRangeByScore(ctx, r.key, "-inf", maxScore)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pop due continuations: %w", err)
	}

	due := make([]*models.Continuation, 0, len(members.Val()))

	for _, member := range members.Val() {
		var cont models.Continuation

		err := json.Unmarshal([]byte(member), &cont)
		if err != nil {
			r.logger.ErrorContext(ctx, "Dropping undecodable continuation", "error", err)

			continue
		}

		due = append(due, &cont)
	}

	return due, nil
}
