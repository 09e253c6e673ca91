package auth

import (
	"context"
	"sync"
	"time"
)

// TokenRevocationStore is an in-memory deny list of access token ids (the
// jti claim). An entry is kept only until the token would have expired.
type TokenRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewTokenRevocationStore() *TokenRevocationStore {
	return &TokenRevocationStore{entries: make(map[string]time.Time), now: time.Now}
}

// Revoke denies jti until expiresAt.
func (s *TokenRevocationStore) Revoke(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = expiresAt
}

func (s *TokenRevocationStore) IsRevoked(jti string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.entries[jti]
	return ok && s.now().Before(exp)
}

// Count returns the number of tracked revocations.
func (s *TokenRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Prune drops entries for tokens that have expired and returns how many
// were removed.
func (s *TokenRevocationStore) Prune() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for jti, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, jti)
			n++
		}
	}
	return n
}

// Run prunes the store every interval until ctx is cancelled.
func (s *TokenRevocationStore) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Prune()
		}
	}
}
