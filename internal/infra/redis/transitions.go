package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/resilience/internal/core/domain"
)

// DefaultRecentLimit bounds the per-dependency transition history.
const DefaultRecentLimit = 50

// TransitionPublisher publishes breaker transitions and keeps a capped list
// of recent transitions per dependency.
type TransitionPublisher struct {
	rdb     *redis.Client
	channel string
	limit   int64
}

// NewTransitionPublisher creates a publisher on the client's channel.
func NewTransitionPublisher(c *Client) *TransitionPublisher {
	return &TransitionPublisher{rdb: c.rdb, channel: c.channel, limit: DefaultRecentLimit}
}

// Key helpers
func recentKey(channel, dependency string) string {
	return fmt.Sprintf("%s:recent:%s", channel, dependency)
}

// Publish sends t on the channel and prepends it to the recent list.
func (p *TransitionPublisher) Publish(ctx context.Context, t domain.BreakerTransition) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}

	key := recentKey(p.channel, t.Dependency)
	pipe := p.rdb.TxPipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, p.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish transition: %w", err)
	}
	return nil
}

// Recent returns up to n of the latest transitions for dependency, newest first.
func (p *TransitionPublisher) Recent(ctx context.Context, dependency string, n int64) ([]domain.BreakerTransition, error) {
	if n <= 0 || n > p.limit {
		n = p.limit
	}
	items, err := p.rdb.LRange(ctx, recentKey(p.channel, dependency), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}

	out := make([]domain.BreakerTransition, 0, len(items))
	for _, item := range items {
		t, err := decodeTransition(item)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Subscribe calls fn for every transition published on the channel until
// ctx is done. Malformed payloads are skipped.
func (p *TransitionPublisher) Subscribe(ctx context.Context, fn func(domain.BreakerTransition)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", p.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			t, err := decodeTransition(msg.Payload)
			if err != nil {
				continue
			}
			fn(t)
		}
	}
}

func decodeTransition(s string) (domain.BreakerTransition, error) {
	var t domain.BreakerTransition
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return t, fmt.Errorf("invalid transition payload: %w", err)
	}
	return t, nil
}
