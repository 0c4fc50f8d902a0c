package revocation

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "jobreel:revoked:video:"

// RedisList shares revocation markers across instances through Redis.
type RedisList struct {
	client redis.UniversalClient
}

// NewRedisList connects to the Redis server at url.
func NewRedisList(url string) (*RedisList, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisList{client: redis.NewClient(opt)}, nil
}

// NewRedisListWithClient wraps an existing client.
func NewRedisListWithClient(client redis.UniversalClient) *RedisList {
	return &RedisList{client: client}
}

func markerKey(videoID string) string {
	return keyPrefix + videoID
}

// Revoke writes a marker with no expiry.
func (l *RedisList) Revoke(ctx context.Context, videoID string) error {
	if err := l.client.Set(ctx, markerKey(videoID), "1", 0).Err(); err != nil {
		return fmt.Errorf("set revocation marker: %w", err)
	}
	return nil
}

// IsRevoked reports whether a marker exists for the video.
func (l *RedisList) IsRevoked(ctx context.Context, videoID string) (bool, error) {
	n, err := l.client.Exists(ctx, markerKey(videoID)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation marker: %w", err)
	}
	return n > 0, nil
}

// Ping verifies connectivity.
func (l *RedisList) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (l *RedisList) Close() error {
	return l.client.Close()
}

var _ List = (*RedisList)(nil)
