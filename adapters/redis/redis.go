// Package redis keeps client-local storage and the session cache in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lborres/templatex/core"
)

const (
	DefaultPrefix  = "templatex"
	defaultTimeout = 3 * time.Second
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects and pings.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// LocalStorage is one client's key-value storage, namespaced under
// <prefix>:<clientID>:.
type LocalStorage struct {
	client    *redis.Client
	namespace string
}

var _ core.LocalStorage = (*LocalStorage)(nil)

func NewLocalStorage(client *redis.Client, prefix, clientID string) *LocalStorage {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &LocalStorage{client: client, namespace: prefix + ":" + clientID + ":"}
}

func (s *LocalStorage) GetItem(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	val, err := s.client.Get(ctx, s.namespace+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *LocalStorage) SetItem(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return s.client.Set(ctx, s.namespace+key, value, 0).Err()
}
