package main

import (
	"context"
	"log"
	"sync"
	"time"
)

// NonceRegistry tracks envelope nonces that have already been accepted
// on signed requests. Entries older than the cleanup max age are
// dropped, so a replay is only detected within that window.
type NonceRegistry struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewNonceRegistry() *NonceRegistry {
	return &NonceRegistry{seen: make(map[string]time.Time)}
}

// Consume marks a nonce as used. It returns false when the nonce was
// already consumed.
func (r *NonceRegistry) Consume(nonce string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, used := r.seen[nonce]; used {
		return false
	}
	r.seen[nonce] = time.Now()
	return true
}

// StartExpirationCleanup drops nonces older than maxAge every interval
// until ctx is canceled.
func (r *NonceRegistry) StartExpirationCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if expired := r.expire(maxAge); expired > 0 {
					log.Printf("INFO: Expired %d envelope nonces", expired)
				}
			}
		}
	}()
}

func (r *NonceRegistry) expire(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for nonce, at := range r.seen {
		if at.Before(cutoff) {
			delete(r.seen, nonce)
			expired++
		}
	}
	return expired
}
