// Package stats provides admission.Recorder implementations for security
// monitoring: an in-memory counter set, a Redis-backed store for dashboards
// that outlive the process, and a Prometheus collector.
package stats

import (
	"context"
	"sync"

	"github.com/gatehouse/gatehouse/admission"
)

// Counts is a snapshot of admission outcomes.
type Counts struct {
	Admitted     int64
	RateLimited  int64
	CSRFRejected int64
	Unauthorized int64
}

// Memory counts outcomes in-process. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	total   Counts
	byRoute map[string]Counts
}

// NewMemory creates an empty Memory recorder.
func NewMemory() *Memory {
	return &Memory{byRoute: make(map[string]Counts)}
}

// Record implements admission.Recorder.
func (m *Memory) Record(_ context.Context, ev admission.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bump(&m.total, ev.Outcome)
	route := ev.Method + " " + ev.Path
	c := m.byRoute[route]
	bump(&c, ev.Outcome)
	m.byRoute[route] = c
	return nil
}

func bump(c *Counts, o admission.Outcome) {
	switch o {
	case admission.OutcomeAdmitted:
		c.Admitted++
	case admission.OutcomeRateLimited:
		c.RateLimited++
	case admission.OutcomeCSRFRejected:
		c.CSRFRejected++
	case admission.OutcomeUnauthorized:
		c.Unauthorized++
	}
}

// Total returns the aggregate counts.
func (m *Memory) Total() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Route returns the counts for one "METHOD /path" route.
func (m *Memory) Route(route string) Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byRoute[route]
}
