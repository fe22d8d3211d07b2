package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Denylist of refresh tokens fingerprints
// Every entry lives as long as the token itself would and then redis drops it
type InvalidationRepo struct {
	Client  goredis.UniversalClient
	Timeout time.Duration
}

func NewInvalidationRepo(client goredis.UniversalClient, timeout time.Duration) *InvalidationRepo {
	return &InvalidationRepo{Client: client, Timeout: timeout}
}

func (r *InvalidationRepo) key(fingerprint string) string {
	return keyPrefix + "invalidated:" + fingerprint
}

// Add fingerprint for ttl. Already expired tokens are not stored: nobody accepts them anyway
func (r *InvalidationRepo) Add(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	// Redis has millisecond precision, keep entry at least that long
	ttl = max(ttl, time.Millisecond)

	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	// NX keeps the first expiry if token is invalidated twice
	err := r.Client.SetArgs(ctx, r.key(fingerprint), 1, goredis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis error: %w", err)
	}

	return nil
}

func (r *InvalidationRepo) Contains(ctx context.Context, fingerprint string) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	n, err := r.Client.Exists(ctx, r.key(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}

	return n > 0, nil
}
