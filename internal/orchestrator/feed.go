package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "keke:chat:"

// RedisFeed mirrors room traffic onto per-participant Redis Streams for live
// consumers such as gateways and UIs. The authoritative mailbox state stays
// in the room; the feed is observation only.
type RedisFeed struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisFeed connects to Redis and verifies the connection.
func NewRedisFeed(redisURL string, logger *zap.Logger) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisFeed{rdb: rdb, logger: logger}, nil
}

// Publish appends a message to the receiver's stream.
func (f *RedisFeed) Publish(ctx context.Context, receiver string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	stream := streamPrefix + receiver
	_, err = f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 1024,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	f.logger.Debug("published to feed",
		zap.String("receiver", receiver),
		zap.String("message", msg.ID))
	return nil
}

// Subscribe listens on a participant's stream. Returns a channel that emits
// messages. Cancel the context to stop.
func (f *RedisFeed) Subscribe(ctx context.Context, handle string) <-chan *Message {
	ch := make(chan *Message, 16)
	stream := streamPrefix + handle

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := f.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()
			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, raw := range r.Messages {
					lastID = raw.ID
					data, ok := raw.Values["data"].(string)
					if !ok {
						continue
					}
					var m Message
					if json.Unmarshal([]byte(data), &m) == nil {
						ch <- &m
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (f *RedisFeed) Close() error {
	return f.rdb.Close()
}
