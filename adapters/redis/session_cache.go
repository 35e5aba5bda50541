package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lborres/templatex/core"
)

// ErrCacheMiss is returned by Get for absent or expired entries.
var ErrCacheMiss = errors.New("session cache miss")

// SessionCache implements core.SessionCache with per-entry TTL.
type SessionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ core.SessionCache = (*SessionCache)(nil)

// cachedSession carries the token hash, which SessionRecord hides from JSON.
type cachedSession struct {
	*core.SessionRecord
	TokenHash string `json:"tokenHash"`
}

func NewSessionCache(client *redis.Client, prefix string, ttl time.Duration) *SessionCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SessionCache{client: client, prefix: prefix + ":session:", ttl: ttl}
}

func (c *SessionCache) Get(tokenHash string) (*core.SessionRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.prefix+tokenHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	entry := cachedSession{SessionRecord: &core.SessionRecord{}}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cached session: %w", err)
	}
	entry.SessionRecord.TokenHash = entry.TokenHash
	return entry.SessionRecord, nil
}

func (c *SessionCache) Set(tokenHash string, session *core.SessionRecord) error {
	raw, err := json.Marshal(cachedSession{SessionRecord: session, TokenHash: session.TokenHash})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ttl := c.ttl
	if until := time.Until(session.ExpiresAt); until < ttl {
		ttl = until
	}
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.client.Set(ctx, c.prefix+tokenHash, raw, ttl).Err()
}

func (c *SessionCache) Delete(tokenHash string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.client.Del(ctx, c.prefix+tokenHash).Err()
}

// Clear removes every cached session under the prefix.
func (c *SessionCache) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
