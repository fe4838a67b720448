package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"solescan/internal/faults"
	"solescan/internal/metrics"
	"solescan/internal/models"
	"solescan/internal/repository"
)

const (
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
)

// Dispatcher POSTs alert payloads to user webhooks. Every attempt group is
// recorded as one webhook_deliveries row, successful or not.
type Dispatcher struct {
	Client  *resty.Client
	Repo    repository.Repository
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// MaxRetries counts attempts after the first; <=0 means a single attempt.
	MaxRetries int
	// BackoffSchedule holds the delay before each retry. Shorter than
	// MaxRetries means the last entry repeats.
	BackoffSchedule []time.Duration

	Now func() time.Time
}

func NewDispatcher(repo repository.Repository, m *metrics.Metrics, logger *zap.Logger, timeout time.Duration, maxRetries int) *Dispatcher {
	return &Dispatcher{
		Client:          resty.New().SetTimeout(timeout),
		Repo:            repo,
		Logger:          logger,
		Metrics:         m,
		MaxRetries:      maxRetries,
		BackoffSchedule: []time.Duration{time.Second, 4 * time.Second, 16 * time.Second},
	}
}

// Send marshals the payload once and POSTs it, retrying transport errors and
// 5xx responses on the backoff schedule. A 4xx is permanent: the receiver saw
// the request and rejected it. The returned error is nil iff delivered.
func (d *Dispatcher) Send(ctx context.Context, alert models.AlertDefinition, dispatchKey string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return faults.Wrap(faults.DataIntegrity, err, "marshal webhook payload")
	}

	start := d.now()
	attempts := 0
	var lastErr error
	var lastStatus *int

	for {
		attempts++
		status, attemptErr := d.post(ctx, alert.WebhookURL, dispatchKey, body)
		if status != 0 {
			s := status
			lastStatus = &s
		}
		if attemptErr == nil {
			d.record(ctx, alert.ID, dispatchKey, models.DeliveryStatusDelivered, attempts, lastStatus, len(payload.Opportunities), nil, start)
			if d.Metrics != nil {
				d.Metrics.Deliveries.WithLabelValues(outcomeDelivered).Inc()
			}
			d.log().Info("webhook delivered",
				zap.String("alert_id", alert.ID),
				zap.Int("attempts", attempts),
				zap.Int("opportunities", len(payload.Opportunities)))
			return nil
		}
		lastErr = attemptErr

		if !faults.Retryable(attemptErr) || attempts > d.MaxRetries || ctx.Err() != nil {
			break
		}
		delay := d.retryDelay(attempts - 1)
		d.log().Warn("webhook attempt failed; retrying",
			zap.String("alert_id", alert.ID),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", delay),
			zap.Error(attemptErr))
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(delay):
			continue
		}
		break
	}

	msg := lastErr.Error()
	d.record(ctx, alert.ID, dispatchKey, models.DeliveryStatusFailed, attempts, lastStatus, len(payload.Opportunities), &msg, start)
	if d.Metrics != nil {
		d.Metrics.Deliveries.WithLabelValues(outcomeFailed).Inc()
	}
	d.log().Warn("webhook delivery failed",
		zap.String("alert_id", alert.ID),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
	return lastErr
}

// post performs one attempt and classifies the outcome. The returned status
// is 0 when no response was received.
func (d *Dispatcher) post(ctx context.Context, url, dispatchKey string, body []byte) (int, error) {
	resp, err := d.Client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Dispatch-Key", dispatchKey).
		SetBody(body).
		Post(url)
	if err != nil {
		return 0, faults.Wrap(faults.TransientUpstream, err, "webhook request")
	}
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return code, nil
	case code >= 500:
		return code, faults.New(faults.TransientUpstream, "webhook returned %d", code)
	case code == 429:
		return code, faults.RateLimitedAfter(0, fmt.Sprintf("webhook returned %d", code))
	default:
		return code, faults.New(faults.PermanentUpstream, "webhook returned %d", code)
	}
}

func (d *Dispatcher) retryDelay(retry int) time.Duration {
	if len(d.BackoffSchedule) == 0 {
		return time.Second
	}
	if retry >= len(d.BackoffSchedule) {
		retry = len(d.BackoffSchedule) - 1
	}
	return d.BackoffSchedule[retry]
}

// record writes the audit row. Failure to write is logged, not propagated:
// the dispatch outcome already happened.
func (d *Dispatcher) record(ctx context.Context, alertID, key, status string, attempts int, httpStatus *int, oppCount int, errMsg *string, start time.Time) {
	if d.Repo == nil {
		return
	}
	row := &models.WebhookDelivery{
		AlertID:          alertID,
		DispatchKey:      key,
		Status:           status,
		Attempts:         attempts,
		HTTPStatus:       httpStatus,
		OpportunityCount: oppCount,
		Error:            errMsg,
		DurationMs:       d.now().Sub(start).Milliseconds(),
	}
	if err := d.Repo.InsertWebhookDelivery(context.WithoutCancel(ctx), row); err != nil {
		d.log().Warn("webhook delivery audit insert failed", zap.String("alert_id", alertID), zap.Error(err))
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) log() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}
