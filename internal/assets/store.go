// Package assets provides the write-once binary signal store backed by
// Redis. Images and audio tracks extracted at capture time are stored under
// opaque identifiers generated at write time:
//
//	Key:   asset:image:<uuid> | asset:audio:<uuid>
//	Value: raw bytes
//	TTL:   retention window
//
// The pipeline never updates or deletes an asset; each blob is written once
// by capture and read once by a downstream consumer, then expires.
package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	ImagePrefix = "asset:image:"
	AudioPrefix = "asset:audio:"

	// DefaultTTL is how long an asset lives. Assets are consumed within
	// seconds in the normal path; a day absorbs broker redelivery storms.
	DefaultTTL = 24 * time.Hour
)

// ErrNotFound is returned when the requested asset does not exist or has
// expired. For a consumer this is terminal: there is no retry target.
var ErrNotFound = errors.New("assets: not found")

// Store manages binary assets in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates an asset store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, ttl: DefaultTTL}
}

// PutImage stores image bytes under a fresh identifier and returns it.
func (s *Store) PutImage(ctx context.Context, data []byte) (string, error) {
	return s.put(ctx, ImagePrefix, data)
}

// PutAudio stores audio bytes under a fresh identifier and returns it.
func (s *Store) PutAudio(ctx context.Context, data []byte) (string, error) {
	return s.put(ctx, AudioPrefix, data)
}

func (s *Store) put(ctx context.Context, prefix string, data []byte) (string, error) {
	id := uuid.New().String()
	ok, err := s.client.SetNX(ctx, prefix+id, data, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("assets: put: %w", err)
	}
	if !ok {
		// A fresh uuid colliding means something else owns the key.
		return "", fmt.Errorf("assets: put: key %s already exists", prefix+id)
	}
	return id, nil
}

// GetImage retrieves image bytes by identifier.
func (s *Store) GetImage(ctx context.Context, id string) ([]byte, error) {
	return s.get(ctx, ImagePrefix, id)
}

// GetAudio retrieves audio bytes by identifier.
func (s *Store) GetAudio(ctx context.Context, id string) ([]byte, error) {
	return s.get(ctx, AudioPrefix, id)
}

func (s *Store) get(ctx context.Context, prefix, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("assets: get %s: %w", id, err)
	}
	return data, nil
}
