// Package revocation records videos whose outstanding tokens must stop
// working immediately.
package revocation

import (
	"context"
	"sync"
)

// List stores revocation markers keyed by video id. Markers never expire.
type List interface {
	Revoke(ctx context.Context, videoID string) error
	IsRevoked(ctx context.Context, videoID string) (bool, error)
}

// MemoryList keeps markers in process memory.
type MemoryList struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
}

// NewMemoryList returns an empty in-memory revocation list.
func NewMemoryList() *MemoryList {
	return &MemoryList{revoked: make(map[string]struct{})}
}

// Revoke marks the video as revoked. Revoking twice is a no-op.
func (l *MemoryList) Revoke(_ context.Context, videoID string) error {
	l.mu.Lock()
	l.revoked[videoID] = struct{}{}
	l.mu.Unlock()
	return nil
}

// IsRevoked reports whether the video carries a marker.
func (l *MemoryList) IsRevoked(_ context.Context, videoID string) (bool, error) {
	l.mu.RLock()
	_, ok := l.revoked[videoID]
	l.mu.RUnlock()
	return ok, nil
}

var _ List = (*MemoryList)(nil)
