package alerts

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"solescan/internal/enricher"
	"solescan/internal/faults"
	"solescan/internal/metrics"
	"solescan/internal/models"
	"solescan/internal/repository"
)

const (
	leaseName = "scheduler"

	// maxConsecutiveFailures is the delivery-failure streak after which an
	// alert is deactivated instead of retried forever.
	maxConsecutiveFailures = 10

	// topFetchFactor over-requests from the enricher so alert-level filters
	// still have a full page to cut from.
	topFetchFactor = 4
)

// Ranker is the slice of the enricher the scheduler needs: the ranked,
// feasibility-filtered field of current opportunities.
type Ranker interface {
	Top(ctx context.Context, limit int, minFeasibility float64, maxRisk string) ([]enricher.Enhanced, error)
}

// Scheduler is the leased singleton that scans due alerts and dispatches
// webhooks. Several engine instances may run one; the lease decides which
// instance's ticks do work, the rest stand by.
type Scheduler struct {
	Repo       repository.Repository
	Ranker     Ranker
	Dispatcher *Dispatcher
	Logger     *zap.Logger
	Metrics    *metrics.Metrics

	// KnownSources validates alert source allowlists; an alert naming a
	// source the engine has never heard of is misconfigured.
	KnownSources map[string]bool

	TickInterval       time.Duration
	WorkerPoolSize     int
	QueueCapacity      int
	TickDeadlineFactor int
	DrainTimeout       time.Duration

	InstanceID string
	Now        func() time.Time

	dedupe  dedupe
	leading atomic.Bool
}

// Leading reports whether this instance currently holds the scheduler lease.
func (s *Scheduler) Leading() bool {
	return s.leading.Load()
}

type scanJob struct {
	ctx   context.Context
	alert models.AlertDefinition
}

// Run blocks until ctx ends. It acquires the lease, ticks on TickInterval,
// and on shutdown drains in-flight scans before releasing the lease.
func (s *Scheduler) Run(ctx context.Context) {
	if s.InstanceID == "" {
		s.InstanceID = uuid.NewString()
	}
	if s.TickInterval <= 0 {
		s.TickInterval = time.Minute
	}
	if s.WorkerPoolSize <= 0 {
		s.WorkerPoolSize = 4
	}
	if s.QueueCapacity <= 0 {
		s.QueueCapacity = 256
	}
	if s.TickDeadlineFactor <= 0 {
		s.TickDeadlineFactor = 5
	}

	jobs := make(chan scanJob, s.QueueCapacity)
	var wg sync.WaitGroup
	for i := 0; i < s.WorkerPoolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if s.Metrics != nil {
					s.Metrics.QueueDepth.Set(float64(len(jobs)))
				}
				s.scan(job.ctx, job.alert)
			}
		}()
	}

	held := false
	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			s.drain(&wg)
			if held {
				s.releaseLease()
			}
			return
		case <-ticker.C:
		}

		now := s.now()
		ok, err := s.Repo.AcquireLease(ctx, leaseName, s.InstanceID, 3*s.TickInterval, now)
		if err != nil {
			s.log().Warn("lease acquisition failed", zap.Error(err))
			continue
		}
		if ok != held {
			held = ok
			if held {
				s.log().Info("scheduler lease acquired", zap.String("holder", s.InstanceID))
			} else {
				s.log().Info("scheduler lease lost", zap.String("holder", s.InstanceID))
			}
		}
		s.leading.Store(held)
		if s.Metrics != nil {
			if held {
				s.Metrics.LeaseHeld.Set(1)
			} else {
				s.Metrics.LeaseHeld.Set(0)
			}
		}
		if held {
			s.tick(ctx, jobs, now)
		}
	}
}

// tick selects due alerts and enqueues them for the worker pool. The queue is
// bounded and the enqueue non-blocking: an alert that does not fit stays due
// and is picked up by a later tick.
func (s *Scheduler) tick(ctx context.Context, jobs chan<- scanJob, now time.Time) {
	if s.Metrics != nil {
		s.Metrics.SchedulerTicks.Inc()
	}

	candidates, err := s.Repo.ListDueAlertCandidates(ctx, now)
	if err != nil {
		s.log().Error("listing due alerts failed", zap.Error(err))
		return
	}

	due := make([]models.AlertDefinition, 0, len(candidates))
	var slowest time.Duration
	for _, alert := range candidates {
		ok, err := Due(alert, now)
		if err != nil {
			// A schedule that cannot be evaluated never becomes due again on
			// its own; deactivate so the owner notices.
			s.log().Warn("deactivating misconfigured alert", zap.String("alert_id", alert.ID), zap.Error(err))
			if derr := s.Repo.DeactivateAlert(ctx, alert.ID, err.Error()); derr != nil {
				s.log().Error("alert deactivation failed", zap.String("alert_id", alert.ID), zap.Error(derr))
			}
			continue
		}
		if !ok {
			continue
		}
		if f := time.Duration(alert.FrequencyMinutes) * time.Minute; f > slowest {
			slowest = f
		}
		due = append(due, alert)
	}
	if len(due) == 0 {
		return
	}

	// Scans enqueued this tick share one deadline scaled to the slowest due
	// alert's cadence, floored at the tick interval, so long-frequency scans
	// over a large catalog are not cut off by a short tick. The context
	// releases itself when it fires.
	deadline := time.Duration(s.TickDeadlineFactor) * slowest
	if deadline < s.TickInterval {
		deadline = s.TickInterval
	}
	tickCtx, cancel := context.WithTimeout(ctx, deadline)
	time.AfterFunc(deadline, cancel)

	for _, alert := range due {
		select {
		case jobs <- scanJob{ctx: tickCtx, alert: alert}:
			if s.Metrics != nil {
				s.Metrics.QueueDepth.Set(float64(len(jobs)))
			}
		default:
			if s.Metrics != nil {
				s.Metrics.EnqueuesDropped.Inc()
			}
			s.log().Warn("scan queue full; alert deferred", zap.String("alert_id", alert.ID))
		}
	}
	if s.Metrics != nil {
		s.Metrics.AlertsDue.Add(float64(len(due)))
	}
}

// scan runs one alert end to end: rank, filter, dedupe, dispatch, and update
// the alert's scan state through its version guard.
func (s *Scheduler) scan(ctx context.Context, alert models.AlertDefinition) {
	now := s.now()

	fetch := alert.MaxOpportunities * topFetchFactor
	if fetch < alert.MaxOpportunities {
		fetch = alert.MaxOpportunities
	}
	ranked, err := s.Ranker.Top(ctx, fetch, alert.MinFeasibilityScore, alert.MaxRiskLevel)
	if err != nil {
		if ctx.Err() != nil {
			if s.Metrics != nil {
				s.Metrics.ScansCancelled.Inc()
			}
			s.log().Warn("scan cancelled by tick deadline", zap.String("alert_id", alert.ID))
			return
		}
		if faults.Is(err, faults.ConfigurationInvalid) {
			s.deactivate(ctx, alert, err)
			return
		}
		// Leave last_scanned_at untouched so the next tick retries.
		s.log().Error("scan failed", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}

	matched, err := s.applyAlertFilters(alert, ranked)
	if err != nil {
		s.deactivate(ctx, alert, err)
		return
	}
	if len(matched) == 0 {
		s.markScanned(ctx, alert, now)
		return
	}

	ids := make([]string, len(matched))
	for i, opp := range matched {
		ids[i] = opp.ProductID
	}
	freq := time.Duration(alert.FrequencyMinutes) * time.Minute
	key := DispatchKey(alert.ID, ids, now, freq)
	if s.dedupe.seen(key, now, 2*freq) {
		if s.Metrics != nil {
			s.Metrics.DispatchesSkipped.Inc()
		}
		s.log().Debug("dispatch suppressed by dedupe window",
			zap.String("alert_id", alert.ID),
			zap.String("dispatch_key", key))
		s.markScanned(ctx, alert, now)
		return
	}

	payload := BuildPayload(alert, matched, now)
	if err := s.Dispatcher.Send(ctx, alert, key, payload); err != nil {
		deactivate := alert.ConsecutiveFailures+1 >= maxConsecutiveFailures
		applied, uerr := s.Repo.MarkAlertDeliveryFailed(ctx, alert.ID, alert.Version, now, err.Error(), deactivate)
		s.checkGuard(alert.ID, applied, uerr)
		if deactivate {
			s.log().Warn("alert deactivated after repeated delivery failures",
				zap.String("alert_id", alert.ID),
				zap.Int("consecutive_failures", alert.ConsecutiveFailures+1))
		}
		return
	}

	applied, uerr := s.Repo.MarkAlertTriggered(ctx, alert.ID, alert.Version, now, len(matched))
	s.checkGuard(alert.ID, applied, uerr)
}

// applyAlertFilters cuts the ranked field down to this alert's criteria and
// its opportunity cap. An allowlisted source the engine does not know is a
// configuration fault.
func (s *Scheduler) applyAlertFilters(alert models.AlertDefinition, ranked []enricher.Enhanced) ([]enricher.Enhanced, error) {
	allowed, err := s.decodeAllowlist(alert)
	if err != nil {
		return nil, err
	}

	out := make([]enricher.Enhanced, 0, alert.MaxOpportunities)
	for _, opp := range ranked {
		if opp.ProfitMargin.InexactFloat64() < alert.MinProfitMargin {
			continue
		}
		if opp.GrossProfit.LessThan(alert.MinGrossProfit) {
			continue
		}
		if alert.MaxBuyPrice != nil && opp.Buy.Price.GreaterThan(*alert.MaxBuyPrice) {
			continue
		}
		if allowed != nil && !allowed[opp.Buy.Source] {
			continue
		}
		out = append(out, opp)
		if len(out) == alert.MaxOpportunities {
			break
		}
	}
	return out, nil
}

// decodeAllowlist returns nil when every source is allowed.
func (s *Scheduler) decodeAllowlist(alert models.AlertDefinition) (map[string]bool, error) {
	if len(alert.SourceAllowlist) == 0 || string(alert.SourceAllowlist) == "null" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal(alert.SourceAllowlist, &names); err != nil {
		return nil, faults.New(faults.ConfigurationInvalid, "alert %s has bad source_allowlist: %v", alert.ID, err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	out := make(map[string]bool, len(names))
	for _, name := range names {
		if s.KnownSources != nil && !s.KnownSources[name] {
			return nil, faults.New(faults.ConfigurationInvalid, "alert %s allowlists unknown source %q", alert.ID, name)
		}
		out[name] = true
	}
	return out, nil
}

func (s *Scheduler) markScanned(ctx context.Context, alert models.AlertDefinition, now time.Time) {
	applied, err := s.Repo.MarkAlertScanned(ctx, alert.ID, alert.Version, now)
	s.checkGuard(alert.ID, applied, err)
}

func (s *Scheduler) deactivate(ctx context.Context, alert models.AlertDefinition, cause error) {
	s.log().Warn("deactivating misconfigured alert", zap.String("alert_id", alert.ID), zap.Error(cause))
	if err := s.Repo.DeactivateAlert(ctx, alert.ID, cause.Error()); err != nil {
		s.log().Error("alert deactivation failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}
}

// checkGuard logs the benign case where the alert changed under us and the
// version-guarded update did not apply.
func (s *Scheduler) checkGuard(alertID string, applied bool, err error) {
	if err != nil {
		s.log().Error("alert state update failed", zap.String("alert_id", alertID), zap.Error(err))
		return
	}
	if !applied {
		s.log().Debug("alert changed concurrently; state update skipped", zap.String("alert_id", alertID))
	}
}

// drain waits for in-flight scans up to DrainTimeout.
func (s *Scheduler) drain(wg *sync.WaitGroup) {
	timeout := s.DrainTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.log().Warn("drain timeout; abandoning in-flight scans")
	}
}

func (s *Scheduler) releaseLease() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Repo.ReleaseLease(ctx, leaseName, s.InstanceID); err != nil {
		s.log().Warn("lease release failed", zap.Error(err))
	}
	s.leading.Store(false)
	if s.Metrics != nil {
		s.Metrics.LeaseHeld.Set(0)
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) log() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
