package csrf

import (
	"sync"
	"testing"
	"time"

	"github.com/gatehouse/gatehouse/clock"
)

func TestTokenIssueAndVerifyConsumes(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	s := NewTokenStore(time.Hour, WithStoreClock(clk))

	tok := s.Issue("1.2.3.4")
	if tok == "" {
		t.Fatalf("empty token issued")
	}
	if !s.Verify(tok, "1.2.3.4") {
		t.Fatalf("fresh token should verify")
	}
	// Consumed exactly once: a token can never be verified twice.
	if s.Verify(tok, "1.2.3.4") {
		t.Fatalf("consumed token verified a second time")
	}
}

func TestTokenAddressBinding(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	s := NewTokenStore(time.Hour, WithStoreClock(clk))

	tok := s.Issue("1.2.3.4")
	if s.Verify(tok, "5.6.7.8") {
		t.Fatalf("token bound to another address verified")
	}
	// The failed attempt must not have consumed it.
	if !s.Verify(tok, "1.2.3.4") {
		t.Fatalf("token should still verify for its own address")
	}
}

func TestTokenExpiresAfterTTL(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	s := NewTokenStore(time.Hour, WithStoreClock(clk))

	tok := s.Issue("1.2.3.4")
	clk.Advance(time.Hour + time.Second)
	if s.Verify(tok, "1.2.3.4") {
		t.Fatalf("token older than TTL verified")
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("expired token should be deleted on verify, %d left", got)
	}
}

func TestTokenUnknownAndEmptyValues(t *testing.T) {
	s := NewTokenStore(time.Hour)
	if s.Verify("", "1.2.3.4") {
		t.Fatalf("empty token verified")
	}
	if s.Verify("not-a-token", "1.2.3.4") {
		t.Fatalf("unknown token verified")
	}
}

func TestTokenSweepReclaimsExpired(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	s := NewTokenStore(time.Hour, WithStoreClock(clk))

	for i := 0; i < 10; i++ {
		s.Issue("1.2.3.4")
	}
	clk.Advance(30 * time.Minute)
	fresh := s.Issue("1.2.3.4")

	clk.Advance(45 * time.Minute) // first batch now past TTL, fresh is not
	if removed := s.Sweep(); removed != 10 {
		t.Fatalf("sweep removed %d tokens, want 10", removed)
	}
	if !s.Verify(fresh, "1.2.3.4") {
		t.Fatalf("unexpired token must survive the sweep")
	}
}

func TestTokenDistinctValues(t *testing.T) {
	s := NewTokenStore(time.Hour)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok := s.Issue("1.2.3.4")
		if seen[tok] {
			t.Fatalf("duplicate token issued")
		}
		seen[tok] = true
	}
}

// No two concurrent requests may both succeed in consuming the same token.
func TestTokenSingleConsumerUnderConcurrency(t *testing.T) {
	s := NewTokenStore(time.Hour)
	tok := s.Issue("1.2.3.4")

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if s.Verify(tok, "1.2.3.4") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d goroutines consumed the token, want exactly 1", wins)
	}
}
