package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"sync"
	"time"

	"github.com/gatehouse/gatehouse/clock"
)

// DefaultTokenTTL is how long an issued token stays valid when unused.
const DefaultTokenTTL = time.Hour

// tokenBytes gives 256 bits of entropy per token.
const tokenBytes = 32

// opportunisticScan bounds how many entries an Issue-triggered sweep visits
// while holding the lock.
const opportunisticScan = 128

type tokenEntry struct {
	value      string
	createdAt  time.Time
	clientAddr string
}

// TokenStore holds single-use anti-forgery tokens keyed by value. A token is
// consumed (deleted) exactly once on successful verification and is also
// reclaimed by the expiry sweep after its TTL, used or not.
//
// The lookup-then-delete sequence in Verify is atomic under one mutex: two
// concurrent requests can never both consume the same token.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]tokenEntry
	ttl    time.Duration
	clk    clock.Clock
	issues int
}

// StoreOption customizes a TokenStore.
type StoreOption func(*TokenStore)

// WithStoreClock injects the time source. Tests use clock.NewManual.
func WithStoreClock(c clock.Clock) StoreOption {
	return func(s *TokenStore) { s.clk = c }
}

// NewTokenStore creates a store whose tokens expire after ttl
// (DefaultTokenTTL if ttl <= 0).
func NewTokenStore(ttl time.Duration, opts ...StoreOption) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &TokenStore{
		tokens: make(map[string]tokenEntry),
		ttl:    ttl,
		clk:    clock.System(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue generates a fresh token bound to the requesting client's address and
// records it. Every few issues it opportunistically reclaims a handful of
// expired entries so the map cannot grow unbounded between scheduled sweeps.
func (s *TokenStore) Issue(clientAddr string) string {
	b := make([]byte, tokenBytes)
	_, _ = rand.Read(b)
	tok := base64.RawURLEncoding.EncodeToString(b)

	now := s.clk.Now()
	s.mu.Lock()
	s.tokens[tok] = tokenEntry{value: tok, createdAt: now, clientAddr: clientAddr}
	s.issues++
	if s.issues%16 == 0 {
		s.sweepSomeLocked(now)
	}
	s.mu.Unlock()
	return tok
}

// Verify consumes token if it is live, unexpired, and bound to clientAddr.
// It returns false for an absent, expired, or foreign token. A token that
// verifies once can never verify again.
func (s *TokenStore) Verify(token, clientAddr string) bool {
	if token == "" {
		return false
	}
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[token]
	if !ok {
		return false
	}
	// Constant-time comparison of the token bytes against the stored value.
	if subtle.ConstantTimeCompare([]byte(token), []byte(e.value)) != 1 {
		return false
	}
	if e.clientAddr != clientAddr {
		return false
	}
	if now.Sub(e.createdAt) > s.ttl {
		delete(s.tokens, token)
		return false
	}
	delete(s.tokens, token) // single use
	return true
}

// Len reports the number of live tokens; used by tests and gauges.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Sweep deletes every token older than the TTL and returns how many were
// removed. Deletion happens in bounded batches per lock acquisition.
func (s *TokenStore) Sweep() int {
	now := s.clk.Now()

	s.mu.Lock()
	expired := make([]string, 0)
	for k, e := range s.tokens {
		if now.Sub(e.createdAt) > s.ttl {
			expired = append(expired, k)
		}
	}
	s.mu.Unlock()

	removed := 0
	for start := 0; start < len(expired); start += opportunisticScan {
		end := start + opportunisticScan
		if end > len(expired) {
			end = len(expired)
		}
		s.mu.Lock()
		for _, k := range expired[start:end] {
			if e, ok := s.tokens[k]; ok && now.Sub(e.createdAt) > s.ttl {
				delete(s.tokens, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// sweepSomeLocked visits at most opportunisticScan entries and drops the
// expired ones. Caller holds the lock.
func (s *TokenStore) sweepSomeLocked(now time.Time) {
	scanned := 0
	for k, e := range s.tokens {
		if now.Sub(e.createdAt) > s.ttl {
			delete(s.tokens, k)
		}
		scanned++
		if scanned >= opportunisticScan {
			return
		}
	}
}

// StartSweeper runs Sweep on a ticker until ctx is done, independent of
// request handling. Pass every <= 0 for a 5 minute interval.
func (s *TokenStore) StartSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}
