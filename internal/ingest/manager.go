package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"solescan/internal/models"
	"solescan/internal/repository"
)

const healthFlushInterval = time.Minute

// Manager supervises the workers: it restarts the ones that fail, and
// mirrors their health into ingest_sources for /healthz and operators.
type Manager struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Backoff Backoff

	mu      sync.Mutex
	workers []Worker
}

func (m *Manager) Add(w Worker) {
	m.mu.Lock()
	m.workers = append(m.workers, w)
	m.mu.Unlock()
}

// Run blocks until the context ends and every worker has returned.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	workers := make([]Worker, len(m.workers))
	copy(workers, m.workers)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.supervise(ctx, w)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.flushHealthLoop(ctx)
	}()

	wg.Wait()
}

// supervise restarts a worker each time it returns with an error, backing
// off on consecutive crashes.
func (m *Manager) supervise(ctx context.Context, w Worker) {
	crashes := 0
	for {
		err := w.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Clean return outside shutdown means the worker's input is gone
			// (e.g. a closed push channel); nothing to restart.
			m.log().Info("worker finished", zap.String("worker", w.Name()))
			return
		}

		delay := m.Backoff.Delay(crashes)
		crashes++
		m.log().Error("worker crashed; restarting",
			zap.String("worker", w.Name()),
			zap.Int("crashes", crashes),
			zap.Duration("restart_in", delay),
			zap.Error(err))
		if sleep(ctx, delay) != nil {
			return
		}
	}
}

// Snapshot returns the current health of every worker, keyed by source name.
func (m *Manager) Snapshot() map[string]Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Health, len(m.workers))
	for _, w := range m.workers {
		out[w.Name()] = w.Health()
	}
	return out
}

// Healthy reports whether no worker is down.
func (m *Manager) Healthy() bool {
	for _, h := range m.Snapshot() {
		if h.Status == StatusDown {
			return false
		}
	}
	return true
}

func (m *Manager) flushHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.flushHealth(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			m.flushHealth(ctx)
		}
	}
}

func (m *Manager) flushHealth(ctx context.Context) {
	if m.Repo == nil {
		return
	}
	m.mu.Lock()
	workers := make([]Worker, len(m.workers))
	copy(workers, m.workers)
	m.mu.Unlock()

	for _, w := range workers {
		h := w.Health()
		row := &models.IngestSource{
			Name:          w.Name(),
			Kind:          w.Kind(),
			Mode:          w.Mode(),
			Enabled:       true,
			LastRunAt:     h.LastRunAt,
			LastEventAt:   h.LastEventAt,
			LastError:     h.LastError,
			HealthStatus:  h.Status,
			RowsIngested:  h.RowsIngested,
			RowsMatched:   h.RowsMatched,
			RowsUnmatched: h.RowsUnmatched,
			RowsFailed:    h.RowsFailed,
		}
		if err := m.Repo.UpsertIngestSource(ctx, row); err != nil {
			m.log().Warn("health row upsert failed", zap.String("worker", w.Name()), zap.Error(err))
		}
	}
}

func (m *Manager) log() *zap.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return zap.NewNop()
}
