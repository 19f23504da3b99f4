package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for unknown session records.
var ErrNotFound = errors.New("session record not found")

// Record is the persisted form of a session. Passwords are never stored.
type Record struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint,omitempty"`
	User      string    `json:"user"`
	Root      string    `json:"root"`
	Aliases   []string  `json:"aliases,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists session records across restarts.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps records for the life of the process.
type MemoryStore struct {
	records sync.Map
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.records.Store(rec.ID, rec)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (Record, error) {
	v, ok := s.records.Load(id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v.(Record), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.records.Delete(id)
	return nil
}

const keyPrefix = "vbox:session:"

// RedisStore keeps records in Redis as JSON, one key per session.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore creates a store. A zero ttl keeps records until deleted.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+rec.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (Record, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("load session record %s: %w", id, err)
	}
	var rec Record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode session record %s: %w", id, err)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete session record %s: %w", id, err)
	}
	return nil
}
