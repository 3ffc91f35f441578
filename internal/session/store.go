// internal/session/store.go
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"loanops-console/internal/common/database"
	apperrors "loanops-console/internal/common/errors"
)

// Store persists the session context between console runs. Load returns
// errors.ErrSessionNotFound when nothing is stored.
type Store interface {
	Load(ctx context.Context) (*Context, error)
	Save(ctx context.Context, c *Context) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the context for the life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	current *Context
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	c := *s.current
	return &c, nil
}

func (s *MemoryStore) Save(ctx context.Context, c *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.current = &cp
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	return nil
}

// RedisStore keeps the context under one key with a TTL.
type RedisStore struct {
	client *database.RedisClient
	key    string
	ttl    time.Duration
}

func NewRedisStore(client *database.RedisClient, key string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, key: key, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context) (*Context, error) {
	raw, err := s.client.Get(ctx, s.key)
	if err == redis.Nil {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, apperrors.NewStoreError("load", err)
	}
	var c Context
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, apperrors.NewStoreError("decode", err)
	}
	return &c, nil
}

func (s *RedisStore) Save(ctx context.Context, c *Context) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return apperrors.NewStoreError("encode", err)
	}
	if err := s.client.Set(ctx, s.key, payload, s.ttl); err != nil {
		return apperrors.NewStoreError("save", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key); err != nil {
		return apperrors.NewStoreError("clear", err)
	}
	return nil
}
