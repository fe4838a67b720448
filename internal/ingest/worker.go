package ingest

import (
	"context"
	"sync"
	"time"
)

// Health status values for /healthz and the ingest_sources table.
const (
	StatusUnknown  = "unknown"
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Health is one worker's operational snapshot.
type Health struct {
	Status      string
	LastRunAt   *time.Time
	LastEventAt *time.Time
	LastError   *string

	RowsIngested  uint64
	RowsMatched   uint64
	RowsUnmatched uint64
	RowsFailed    uint64
}

// Worker is one ingestion loop. Run blocks until the context ends or the
// worker fails; the manager restarts failed workers.
type Worker interface {
	Name() string
	Kind() string
	Mode() string
	Run(ctx context.Context) error
	Health() Health
}

// healthState is the mutable snapshot every worker embeds.
type healthState struct {
	mu sync.Mutex
	h  Health
}

func (s *healthState) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.h
	if h.Status == "" {
		h.Status = StatusUnknown
	}
	return h
}

func (s *healthState) markRun(now time.Time) {
	s.mu.Lock()
	s.h.LastRunAt = &now
	s.mu.Unlock()
}

func (s *healthState) markOK() {
	s.mu.Lock()
	s.h.Status = StatusOK
	s.h.LastError = nil
	s.mu.Unlock()
}

func (s *healthState) markError(status string, err error) {
	s.mu.Lock()
	s.h.Status = status
	msg := err.Error()
	s.h.LastError = &msg
	s.mu.Unlock()
}

func (s *healthState) record(now time.Time, outcome Outcome) {
	s.mu.Lock()
	s.h.RowsIngested++
	s.h.LastEventAt = &now
	switch outcome {
	case OutcomeMatched:
		s.h.RowsMatched++
	case OutcomeUnmatched:
		s.h.RowsUnmatched++
	case OutcomeSkipped:
		s.h.RowsFailed++
	}
	s.mu.Unlock()
}
