// Package redisdedup shares reminder de-duplication between scheduler
// instances through Redis. A claim is a SET NX with the window as TTL, so
// the key disappears by itself once another reminder is due.
package redisdedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/leave-portal/leave"
)

const DefaultPrefix = "leave:"

type Store struct {
	client redis.Cmdable
	prefix string
}

var _ leave.ReminderStore = (*Store)(nil)

func New(client redis.Cmdable, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// ClaimReminder implements leave.ReminderStore. Expiry uses the Redis
// server clock; now is only stored as the value for debugging.
func (s *Store) ClaimReminder(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, s.prefix+key, now.UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("claim reminder %s: %w", key, err)
	}
	return ok, nil
}

// Release drops a claim, letting the next scan remind again.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release reminder %s: %w", key, err)
	}
	return nil
}
