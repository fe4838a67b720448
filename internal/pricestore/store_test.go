package pricestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solescan/internal/faults"
	"solescan/internal/models"
)

func obsAt(price string, at time.Time) Observation {
	return Observation{
		ProductID:  "p-1",
		Source:     "awin",
		SourceKind: models.SourceKindRetail,
		VariantID:  "v-1",
		Price:      decimal.RequireFromString(price),
		Currency:   "EUR",
		InStock:    true,
		ObservedAt: at,
	}
}

func TestUpsertFirstSightingAppendsEvent(t *testing.T) {
	repo := newStubRepo()
	store := New(repo, nil, nil)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	changed, err := store.Upsert(context.Background(), obsAt("120.00", base))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !changed {
		t.Fatalf("first sighting not reported as changed")
	}
	if len(repo.history) != 1 || repo.history[0].Reason != models.HistoryReasonFirstSeen {
		t.Fatalf("history = %+v, want one first_seen event", repo.history)
	}
}

func TestUpsertEpsilonGate(t *testing.T) {
	repo := newStubRepo()
	store := New(repo, nil, nil)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, obsAt("120.00", base)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Sub-epsilon move: record advances, no event.
	changed, err := store.Upsert(ctx, obsAt("120.005", base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if changed {
		t.Fatalf("sub-epsilon move reported as changed")
	}
	if len(repo.history) != 1 {
		t.Fatalf("history grew on sub-epsilon move: %d events", len(repo.history))
	}

	// Exactly epsilon: one event with old and new price.
	changed, err = store.Upsert(ctx, obsAt("120.015", base.Add(2*time.Minute)))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !changed {
		t.Fatalf("epsilon move not reported as changed")
	}
	if len(repo.history) != 2 {
		t.Fatalf("history has %d events, want 2", len(repo.history))
	}
	ev := repo.history[1]
	if ev.Reason != models.HistoryReasonPriceChange {
		t.Fatalf("reason = %s, want price_change", ev.Reason)
	}
	if ev.OldPrice == nil || !ev.OldPrice.Equal(decimal.RequireFromString("120.005")) {
		t.Fatalf("old price = %v, want 120.005", ev.OldPrice)
	}
	if !ev.NewPrice.Equal(decimal.RequireFromString("120.015")) {
		t.Fatalf("new price = %s, want 120.015", ev.NewPrice)
	}
}

func TestUpsertStockFlipAppendsEvent(t *testing.T) {
	repo := newStubRepo()
	store := New(repo, nil, nil)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, obsAt("120.00", base)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	next := obsAt("120.00", base.Add(time.Minute))
	next.InStock = false
	changed, err := store.Upsert(ctx, next)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !changed {
		t.Fatalf("stock flip not reported as changed")
	}
	if repo.history[len(repo.history)-1].Reason != models.HistoryReasonStockFlip {
		t.Fatalf("reason = %s, want stock_flip", repo.history[len(repo.history)-1].Reason)
	}
}

func TestUpsertReplayIsNoOp(t *testing.T) {
	repo := newStubRepo()
	store := New(repo, nil, nil)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	first := obsAt("120.00", base)
	if _, err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("seed: %v", err)
	}
	changed, err := store.Upsert(ctx, first)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if changed {
		t.Fatalf("byte-identical replay reported as changed")
	}
	if len(repo.history) != 1 {
		t.Fatalf("replay appended history: %d events", len(repo.history))
	}
}

func TestUpsertObservedAtRegressionIsIntegrityFault(t *testing.T) {
	repo := newStubRepo()
	store := New(repo, nil, nil)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, obsAt("120.00", base)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := store.Upsert(ctx, obsAt("110.00", base.Add(-time.Hour)))
	if !faults.Is(err, faults.DataIntegrity) {
		t.Fatalf("err = %v, want DataIntegrity", err)
	}
	if len(repo.history) != 1 {
		t.Fatalf("regressed write appended history")
	}
}

func TestUpsertStorageErrorIsWrapped(t *testing.T) {
	repo := newStubRepo()
	repo.saveErr = errors.New("pq: connection reset")
	store := New(repo, nil, nil)

	_, err := store.Upsert(context.Background(), obsAt("120.00", time.Now().UTC()))
	if !faults.Is(err, faults.Storage) {
		t.Fatalf("err = %v, want Storage", err)
	}
}

func TestSubscribePublishesMaterialChanges(t *testing.T) {
	repo := newStubRepo()
	store := New(repo, nil, nil)
	feed := store.Subscribe(4)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, obsAt("120.00", base)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Upsert(ctx, obsAt("120.001", base.Add(time.Minute))); err != nil {
		t.Fatalf("noise write: %v", err)
	}
	if _, err := store.Upsert(ctx, obsAt("125.00", base.Add(2*time.Minute))); err != nil {
		t.Fatalf("move write: %v", err)
	}

	var got []Change
	for len(feed) > 0 {
		got = append(got, <-feed)
	}
	if len(got) != 2 {
		t.Fatalf("feed delivered %d changes, want 2 (first_seen, price_change)", len(got))
	}
	if got[0].Reason != models.HistoryReasonFirstSeen || got[1].Reason != models.HistoryReasonPriceChange {
		t.Fatalf("reasons = %s, %s", got[0].Reason, got[1].Reason)
	}
}

func TestIterateResumesFromCursor(t *testing.T) {
	repo := newStubRepo()
	store := New(repo, nil, nil)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i, product := range []string{"p-1", "p-2", "p-3"} {
		obs := obsAt("100.00", base.Add(time.Duration(i)*time.Minute))
		obs.ProductID = product
		if _, err := store.Upsert(ctx, obs); err != nil {
			t.Fatalf("seed %s: %v", product, err)
		}
	}

	var seen []string
	stop := errors.New("stop")
	cursor, err := store.Iterate(ctx, nil, time.Time{}, Cursor{}, 10, func(rec models.PriceRecord) error {
		seen = append(seen, rec.ProductID)
		if len(seen) == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Iterate err = %v, want stop", err)
	}
	if len(seen) != 2 {
		t.Fatalf("first walk saw %d records, want 2", len(seen))
	}

	_, err = store.Iterate(ctx, nil, time.Time{}, cursor, 10, func(rec models.PriceRecord) error {
		seen = append(seen, rec.ProductID)
		return nil
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("resumed walk finished with %d records, want 3", len(seen))
	}
}
