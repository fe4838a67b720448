package ingest

import (
	"context"

	"go.uber.org/zap"

	"solescan/internal/faults"
	"solescan/internal/matcher"
	"solescan/internal/metrics"
	"solescan/internal/pricestore"
)

// Outcome of one row through the sink.
type Outcome int

const (
	OutcomeMatched Outcome = iota
	OutcomeUnmatched
	OutcomeSkipped
)

// Sink is the common tail of every worker: match the row, upsert the price.
// Integrity faults skip the row; storage faults get one retry before they
// propagate to the worker.
type Sink struct {
	Matcher *matcher.Matcher
	Store   *pricestore.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (s *Sink) Consume(ctx context.Context, source, kind string, ev Event) (Outcome, error) {
	if s.Metrics != nil {
		s.Metrics.RowsIngested.WithLabelValues(source).Inc()
	}

	res, err := s.Matcher.Match(ctx, source, ev.Row())
	if err != nil {
		if faults.Is(err, faults.DataIntegrity) {
			s.warn("row skipped on integrity fault", source, ev, err)
			s.countFailure(source, err)
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}
	if res == nil {
		if s.Metrics != nil {
			s.Metrics.RowsUnmatched.WithLabelValues(source).Inc()
		}
		if s.Logger != nil {
			s.Logger.Debug("row matched no product",
				zap.String("source", source),
				zap.String("external_id", ev.ExternalID),
				zap.String("name", ev.Name))
		}
		return OutcomeUnmatched, nil
	}
	if s.Metrics != nil {
		s.Metrics.RowsMatched.WithLabelValues(source).Inc()
	}

	obs := ev.Observation(res.ProductID, source, kind)
	if _, err := s.Store.Upsert(ctx, obs); err != nil {
		if faults.Is(err, faults.DataIntegrity) {
			s.warn("observation rejected", source, ev, err)
			s.countFailure(source, err)
			return OutcomeSkipped, nil
		}
		if faults.Is(err, faults.Storage) {
			if _, retryErr := s.Store.Upsert(ctx, obs); retryErr == nil {
				return OutcomeMatched, nil
			}
		}
		s.countFailure(source, err)
		return OutcomeSkipped, err
	}
	return OutcomeMatched, nil
}

func (s *Sink) warn(msg, source string, ev Event, err error) {
	if s.Logger != nil {
		s.Logger.Warn(msg,
			zap.String("source", source),
			zap.String("external_id", ev.ExternalID),
			zap.Error(err))
	}
}

func (s *Sink) countFailure(source string, err error) {
	if s.Metrics == nil {
		return
	}
	kind, ok := faults.KindOf(err)
	if !ok {
		kind = "unclassified"
	}
	s.Metrics.IngestFailures.WithLabelValues(source, string(kind)).Inc()
}
