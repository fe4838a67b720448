// Package metrics registers the engine's Prometheus instruments. One Metrics
// value is built in main and shared by every component; tests build their own
// against a fresh registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "solescan"

type Metrics struct {
	Registry *prometheus.Registry

	// Ingest.
	RowsIngested   *prometheus.CounterVec
	RowsMatched    *prometheus.CounterVec
	RowsUnmatched  *prometheus.CounterVec
	IngestFailures *prometheus.CounterVec

	// Price store.
	HistoryEvents   *prometheus.CounterVec
	IntegritySkips  prometheus.Counter
	ChangeFeedDrops prometheus.Counter

	// Detector and scoring.
	PairsEvaluated       prometheus.Counter
	OpportunitiesEmitted prometheus.Counter
	ScoreCacheHits       prometheus.Counter
	ScoreCacheMisses     prometheus.Counter
	ScoreCacheEvictions  prometheus.Counter

	// Scheduler and dispatch.
	SchedulerTicks    prometheus.Counter
	AlertsDue         prometheus.Counter
	EnqueuesDropped   prometheus.Counter
	ScansCancelled    prometheus.Counter
	DispatchesSkipped prometheus.Counter
	Deliveries        *prometheus.CounterVec
	LeaseHeld         prometheus.Gauge
	QueueDepth        prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		Registry: reg,

		RowsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "rows_total",
			Help: "Raw rows received per source.",
		}, []string{"source"}),
		RowsMatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "rows_matched_total",
			Help: "Rows matched to a catalog product per source.",
		}, []string{"source"}),
		RowsUnmatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "rows_unmatched_total",
			Help: "Rows dropped because no product matched.",
		}, []string{"source"}),
		IngestFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "failures_total",
			Help: "Row or page failures per source and fault kind.",
		}, []string{"source", "kind"}),

		HistoryEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pricestore", Name: "history_events_total",
			Help: "Price history events appended, by reason.",
		}, []string{"reason"}),
		IntegritySkips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pricestore", Name: "integrity_skips_total",
			Help: "Writes skipped over data-integrity faults. Page the operator when this moves.",
		}),
		ChangeFeedDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pricestore", Name: "change_feed_drops_total",
			Help: "Change events dropped on slow subscribers.",
		}),

		PairsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detector", Name: "pairs_evaluated_total",
			Help: "Buy/sell candidate pairs evaluated.",
		}),
		OpportunitiesEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detector", Name: "opportunities_total",
			Help: "Opportunities that passed all filters.",
		}),
		ScoreCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scoring", Name: "cache_hits_total",
			Help: "Demand/risk memo hits.",
		}),
		ScoreCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scoring", Name: "cache_misses_total",
			Help: "Demand/risk memo misses.",
		}),
		ScoreCacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scoring", Name: "cache_evictions_total",
			Help: "Memo entries dropped by TTL or price-change invalidation.",
		}),

		SchedulerTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "ticks_total",
			Help: "Scheduler ticks run.",
		}),
		AlertsDue: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "alerts_due_total",
			Help: "Alerts selected as due across all ticks.",
		}),
		EnqueuesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "enqueues_dropped_total",
			Help: "Due alerts deferred because the scan queue was full.",
		}),
		ScansCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "scans_cancelled_total",
			Help: "Scans cancelled by the per-tick deadline.",
		}),
		DispatchesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "dispatches_skipped_total",
			Help: "Dispatches suppressed by the dedupe window.",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "deliveries_total",
			Help: "Webhook dispatch outcomes.",
		}, []string{"outcome"}),
		LeaseHeld: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "lease_held",
			Help: "1 while this instance holds the scheduler lease.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "queue_depth",
			Help: "Alerts waiting in the scan queue.",
		}),
	}
	return m
}
