package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Load for missing or expired snapshots.
var ErrNotFound = errors.New("snapshot not found")

const keyPrefix = "vbox:snapshot:"

// RedisStore keeps zstd-compressed containers in Redis so a reference can
// be handed to another process.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// NewRedisStore creates a store; ttl <= 0 keeps snapshots forever.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) (*RedisStore, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl, enc: enc, dec: dec}, nil
}

// Save stores c under key.
func (s *RedisStore) Save(ctx context.Context, key string, c Container) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyPrefix+key, s.enc.EncodeAll(data, nil), s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}

// Load returns the container stored under key.
func (s *RedisStore) Load(ctx context.Context, key string) (Container, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Container{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Container{}, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	data, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return Container{}, fmt.Errorf("decompress snapshot %s: %w", key, err)
	}
	return Decode(data)
}

// Delete removes the snapshot stored under key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	return nil
}

// Close releases the codec resources. The Redis client is owned by the caller.
func (s *RedisStore) Close() {
	s.dec.Close()
	_ = s.enc.Close()
}
