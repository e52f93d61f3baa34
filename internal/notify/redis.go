package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// RedisPublisher broadcasts events over redis pub/sub. Errors are logged
// and swallowed; a dead redis must never stall a capture or transcription.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(addr string, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		logger: logger,
	}
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (p *RedisPublisher) Publish(userID, event string, payload any) {
	body, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		p.logger.Warn("encode notification", zap.String("event", event), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, UserChannel(userID), body).Err(); err != nil {
		p.logger.Warn("publish notification",
			zap.String("channel", UserChannel(userID)),
			zap.String("event", event),
			zap.Error(err))
	}
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
