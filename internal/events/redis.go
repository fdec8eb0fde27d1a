// Package events publishes backup job state changes to Redis pub/sub so other
// portal processes can push live progress to browsers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/BardiaPzK/ribooster/internal/model"
)

const publishTimeout = 2 * time.Second

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
}

// RedisNotifier publishes every job event as JSON on one channel.
type RedisNotifier struct {
	rdb     publisher
	closer  func() error
	channel string
	logger  zerolog.Logger
}

// NewRedisNotifier connects to addr and verifies the connection.
func NewRedisNotifier(ctx context.Context, addr, channel string, logger zerolog.Logger) (*RedisNotifier, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	n := newRedisNotifier(rdb, channel, logger)
	n.closer = rdb.Close
	return n, nil
}

func newRedisNotifier(rdb publisher, channel string, logger zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With().Str("component", "redis-notifier").Logger(),
	}
}

// Publish sends ev. Failures are logged and otherwise ignored.
func (n *RedisNotifier) Publish(ctx context.Context, ev model.JobEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		n.logger.Warn().Err(err).Str("job_id", ev.JobID).Msg("failed to encode job event")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		n.logger.Warn().Err(err).Str("job_id", ev.JobID).Msg("failed to publish job event")
	}
}

// Ping reports whether the redis connection is usable.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.rdb.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}
