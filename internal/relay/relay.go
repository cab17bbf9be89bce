// Package relay publishes live updates to a Redis stream.
package relay

import (
	"context"
	"strconv"
	"time"

	"github.com/lowaak/cycle-computer/internal/live"
	"github.com/lowaak/cycle-computer/internal/metrics"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Relay appends every update it receives to a capped Redis stream.
type Relay struct {
	client     *redis.Client
	logger     *zap.Logger
	stream     string
	maxLen     int64
	sessionKey uint64
	now        func() time.Time
}

func New(client *redis.Client, logger *zap.Logger, stream string, maxLen int64, sessionKey uint64) *Relay {
	if client == nil {
		panic("Relay: client cannot be nil")
	}
	if logger == nil {
		panic("Relay: logger cannot be nil")
	}
	return &Relay{
		client:     client,
		logger:     logger,
		stream:     stream,
		maxLen:     maxLen,
		sessionKey: sessionKey,
		now:        time.Now,
	}
}

func (r *Relay) values(u live.Update) map[string]interface{} {
	return map[string]interface{}{
		"session": strconv.FormatUint(r.sessionKey, 10),
		"kind":    u.Kind.String(),
		"value":   strconv.FormatFloat(u.Value, 'f', -1, 64),
		"present": strconv.FormatBool(u.Present),
		"ts_ms":   strconv.FormatInt(r.now().UnixMilli(), 10),
	}
}

// Publish appends one update and returns the stream entry id.
func (r *Relay) Publish(ctx context.Context, u live.Update) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: r.values(u),
	}).Result()
	if err != nil {
		metrics.RelayPublishedTotal.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.RelayPublishedTotal.WithLabelValues("ok").Inc()
	return id, nil
}

// Run publishes updates until ctx is cancelled or updates is closed. Publish
// failures are logged and the update is dropped; the relay never holds up
// recording.
func (r *Relay) Run(ctx context.Context, updates <-chan live.Update) {
	r.logger.Info("Relay: publishing", zap.String("stream", r.stream), zap.Int64("max_len", r.maxLen))
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if _, err := r.Publish(ctx, u); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("Relay: publish failed", zap.Stringer("kind", u.Kind), zap.Error(err))
			}
		}
	}
}
