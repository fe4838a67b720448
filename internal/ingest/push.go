package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const dedupeWindow = 24 * time.Hour

// PushWorker drains inbound events delivered by the HTTP ingest endpoint.
// Sources at times redeliver webhooks; a sliding-window set over
// source|external_id|observed_at drops the replays.
type PushWorker struct {
	SourceName string
	SourceKind string
	Events     <-chan Event
	Sink       *Sink
	Logger     *zap.Logger

	// Now is overridable in tests.
	Now func() time.Time

	seen      map[string]time.Time
	lastSweep time.Time

	healthState
}

func (w *PushWorker) Name() string { return w.SourceName }
func (w *PushWorker) Kind() string { return w.SourceKind }
func (w *PushWorker) Mode() string { return "push" }

func (w *PushWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if err := w.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (w *PushWorker) handle(ctx context.Context, ev Event) error {
	now := w.now()
	w.markRun(now)

	if w.duplicate(ev, now) {
		if w.Logger != nil {
			w.Logger.Debug("duplicate event dropped",
				zap.String("source", w.SourceName),
				zap.String("external_id", ev.ExternalID))
		}
		return nil
	}

	outcome, err := w.Sink.Consume(ctx, w.SourceName, w.SourceKind, ev)
	if err != nil {
		w.markError(StatusDegraded, err)
		return err
	}
	w.record(now, outcome)
	w.markOK()
	return nil
}

// duplicate records the event key and reports whether it was already seen
// within the window. Events without an external id are never deduped.
func (w *PushWorker) duplicate(ev Event, now time.Time) bool {
	if ev.ExternalID == "" {
		return false
	}
	if w.seen == nil {
		w.seen = make(map[string]time.Time)
	}
	if now.Sub(w.lastSweep) >= dedupeWindow/4 {
		for key, at := range w.seen {
			if now.Sub(at) >= dedupeWindow {
				delete(w.seen, key)
			}
		}
		w.lastSweep = now
	}

	key := fmt.Sprintf("%s|%s|%d", w.SourceName, ev.ExternalID, ev.ObservedAt.Unix())
	if at, ok := w.seen[key]; ok && now.Sub(at) < dedupeWindow {
		return true
	}
	w.seen[key] = now
	return false
}

func (w *PushWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}
