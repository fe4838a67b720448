package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"solescan/internal/faults"
	"solescan/internal/models"
	"solescan/internal/repository"
)

// PullWorker polls a REST feed on an interval, walking pages from the last
// persisted checkpoint. Every fetch passes the per-source token bucket.
type PullWorker struct {
	SourceName string
	SourceKind string
	Feed       FeedClient
	Sink       *Sink
	Repo       repository.Repository
	Logger     *zap.Logger
	Limiter    *rate.Limiter
	Interval   time.Duration
	PageLimit  int
	Backoff    Backoff

	healthState
}

func (w *PullWorker) Name() string { return w.SourceName }
func (w *PullWorker) Kind() string { return w.SourceKind }
func (w *PullWorker) Mode() string { return "pull" }

func (w *PullWorker) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// First poll immediately, then on the interval.
	if err := w.pollOnce(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.pollOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *PullWorker) pollOnce(ctx context.Context) error {
	now := time.Now().UTC()
	w.markRun(now)

	cursor, err := w.loadCursor(ctx)
	if err != nil {
		w.markError(StatusDegraded, err)
		return err
	}

	limit := w.PageLimit
	if limit <= 0 {
		limit = 200
	}

	for {
		if w.Limiter != nil {
			if err := w.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		page, err := w.fetchPage(ctx, cursor, limit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.markError(StatusDegraded, err)
			w.saveCheckpoint(ctx, cursor, nil, err)
			if faults.Is(err, faults.PermanentUpstream) || faults.Is(err, faults.ConfigurationInvalid) {
				// The feed itself is broken; the next interval retries from
				// the same cursor. Crashing would only thrash the manager.
				w.log().Warn("poll abandoned", zap.String("source", w.SourceName), zap.Error(err))
				return nil
			}
			return nil
		}

		var newest time.Time
		for _, ev := range page.Events {
			outcome, err := w.Sink.Consume(ctx, w.SourceName, w.SourceKind, ev)
			if err != nil {
				w.markError(StatusDegraded, err)
				w.saveCheckpoint(ctx, cursor, &newest, err)
				return err
			}
			w.record(time.Now().UTC(), outcome)
			if ev.ObservedAt.After(newest) {
				newest = ev.ObservedAt
			}
		}

		cursor = page.NextCursor
		w.markOK()
		w.saveCheckpoint(ctx, cursor, &newest, nil)

		if page.NextCursor == "" || len(page.Events) < limit {
			return nil
		}
	}
}

// fetchPage retries transient failures per the backoff policy. Rate-limit
// faults wait at least the advertised Retry-After.
func (w *PullWorker) fetchPage(ctx context.Context, cursor string, limit int) (Page, error) {
	for attempt := 0; ; attempt++ {
		page, err := w.Feed.Fetch(ctx, cursor, limit)
		if err == nil {
			return page, nil
		}
		if !faults.Retryable(err) || w.Backoff.Exhausted(attempt) {
			return Page{}, err
		}
		delay := w.Backoff.Delay(attempt)
		if after := faults.RetryAfterOf(err); after > delay {
			delay = after
		}
		w.log().Debug("fetch retry",
			zap.String("source", w.SourceName),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return Page{}, err
		}
	}
}

func (w *PullWorker) loadCursor(ctx context.Context) (string, error) {
	cp, err := w.Repo.GetIngestCheckpoint(ctx, w.SourceName)
	if err != nil {
		return "", faults.Wrap(faults.Storage, err, "load checkpoint")
	}
	if cp == nil || cp.Cursor == nil {
		return "", nil
	}
	return *cp.Cursor, nil
}

// saveCheckpoint persists pagination state best-effort; a failed save costs a
// re-read of one page, not correctness.
func (w *PullWorker) saveCheckpoint(ctx context.Context, cursor string, newest *time.Time, runErr error) {
	now := time.Now().UTC()
	cp := &models.IngestCheckpoint{
		Source:        w.SourceName,
		LastAttemptAt: &now,
	}
	if cursor != "" {
		cp.Cursor = &cursor
	}
	if newest != nil && !newest.IsZero() {
		cp.WatermarkTS = newest
	}
	if runErr != nil {
		msg := runErr.Error()
		cp.LastError = &msg
	} else {
		cp.LastSuccessAt = &now
	}
	if err := w.Repo.SaveIngestCheckpoint(ctx, cp); err != nil {
		w.log().Warn("checkpoint save failed", zap.String("source", w.SourceName), zap.Error(err))
	}
}

func (w *PullWorker) log() *zap.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return zap.NewNop()
}
