package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// EventDeduper implements ports.EventDeduper using Redis SET NX.
type EventDeduper struct {
	client *goredis.Client
	prefix string
}

// NewEventDeduper creates a new Redis-backed event deduper.
func NewEventDeduper(client *goredis.Client) *EventDeduper {
	return &EventDeduper{
		client: client,
		prefix: "event:seen:",
	}
}

// FirstSeen atomically records eventID. Returns true if it had not been
// recorded within ttl.
func (d *EventDeduper) FirstSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	result, err := d.client.SetArgs(ctx, d.prefix+eventID, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis event dedupe: %w", err)
	}
	return result == "OK", nil
}
