// Package dispatcher fans events out to subscribed endpoints and executes
// the queued delivery attempts.
//
// Publish resolves subscribers and creates one delivery record plus one
// queued job per endpoint. Workers call Execute, which performs the signed
// HTTP POST and records the outcome through the record store's
// compare-and-set, so redelivered jobs can never double-count an attempt.
package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/AbdullahHassan176/hookrelay/internal/clock"
	"github.com/AbdullahHassan176/hookrelay/internal/domain"
	"github.com/AbdullahHassan176/hookrelay/internal/observability"
	"github.com/AbdullahHassan176/hookrelay/internal/queue"
	"github.com/AbdullahHassan176/hookrelay/internal/record"
	"github.com/AbdullahHassan176/hookrelay/internal/registry"
	"github.com/AbdullahHassan176/hookrelay/internal/resilience"
	"github.com/AbdullahHassan176/hookrelay/internal/retry"
)

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CredentialResolver looks up per-delivery credential headers, typically
// from a vault. Resolved headers are applied last and override both the
// default and the endpoint's configured headers. A lookup failure counts
// as a retryable attempt failure; nothing is transmitted.
type CredentialResolver interface {
	Resolve(ctx context.Context, endpoint *domain.Endpoint) ([]domain.Header, error)
}

// maxResponseBytes caps how much of a receiver's response body is kept on
// the delivery record.
const maxResponseBytes = 1024

// throttleDelay is the reschedule delay for backpressure (rate limit or
// open breaker). It is deliberately short and flat; exponential backoff is
// reserved for real delivery failures.
const throttleDelay = time.Second

// Config defines dispatcher-wide delivery parameters. Per-endpoint
// settings (timeout, retry policy, headers) override these.
type Config struct {
	UserAgent      string
	DefaultTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		UserAgent:      "hookrelay/1.0",
		DefaultTimeout: 30 * time.Second,
	}
}

// DeliveryJob is the payload carried by delivery and retry queue jobs.
// It holds only the record id; all state lives in the record store.
type DeliveryJob struct {
	DeliveryID string `json:"deliveryId"`
}

// deliveryNamespace salts deterministic delivery ids.
var deliveryNamespace = uuid.MustParse("1b4e28ba-2fa1-11d2-883f-b9a761bde3fb")

// deliveryID maps one logical (event, endpoint) pair to one record id.
// A replayed Publish, e.g. after a Kafka offset was not committed, derives
// the same id and collapses onto the existing record and queued job
// instead of duplicating the delivery.
func deliveryID(eventID, endpointID string) string {
	return uuid.NewSHA1(deliveryNamespace, []byte(eventID+"\x00"+endpointID)).String()
}

// Dispatcher implements event fan-out and delivery execution.
type Dispatcher struct {
	config     Config
	endpoints  registry.Registry
	records    record.Store
	broker     queue.Broker
	httpClient HTTPClient
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	limiters    *resilience.LimiterSet
	breakers    *resilience.BreakerSet
	credentials CredentialResolver
}

func New(
	config Config,
	endpoints registry.Registry,
	records record.Store,
	broker queue.Broker,
	httpClient HTTPClient,
	clk clock.Clock,
	logger *slog.Logger,
) *Dispatcher {
	if config.UserAgent == "" {
		config.UserAgent = "hookrelay/1.0"
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		config:     config,
		endpoints:  endpoints,
		records:    records,
		broker:     broker,
		httpClient: httpClient,
		clock:      clk,
		logger:     logger,
	}
}

// WithMetrics enables Prometheus metrics collection.
func (d *Dispatcher) WithMetrics(m *observability.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// WithResilience enables per-endpoint rate limiting and circuit breaking.
func (d *Dispatcher) WithResilience(limiters *resilience.LimiterSet, breakers *resilience.BreakerSet) *Dispatcher {
	d.limiters = limiters
	d.breakers = breakers
	if breakers != nil {
		breakers.OnStateChange(func(endpointID string, from, to resilience.BreakerState) {
			d.logger.Warn("circuit breaker state change",
				"endpoint_id", endpointID,
				"from", from,
				"to", to,
			)
		})
	}
	return d
}

// WithCredentials injects a vault-backed credential lookup consulted
// before each transmission.
func (d *Dispatcher) WithCredentials(resolver CredentialResolver) *Dispatcher {
	d.credentials = resolver
	return d
}

// Publish fans an event out to every active endpoint subscribed to its
// type: one delivery record and one queued job per endpoint. An event with
// no subscribers is accepted and produces nothing.
func (d *Dispatcher) Publish(ctx context.Context, event *domain.Event) ([]*domain.DeliveryRecord, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	subscribers, err := d.endpoints.GetActiveSubscribers(ctx, event.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscribers: %w", err)
	}

	if d.metrics != nil {
		d.metrics.EventsPublished.Inc()
	}

	records := make([]*domain.DeliveryRecord, 0, len(subscribers))
	for _, endpoint := range subscribers {
		rec, err := d.createDelivery(ctx, endpoint, event)
		if err != nil {
			return records, fmt.Errorf("failed to create delivery for endpoint %s: %w", endpoint.ID, err)
		}
		records = append(records, rec)
	}

	d.logger.Info("event published",
		"event_id", event.ID,
		"event_type", event.Type,
		"deliveries", len(records),
	)
	return records, nil
}

// Deliver targets one endpoint directly, bypassing fan-out. The endpoint
// must be active and subscribed to the event's type; violations are
// configuration errors surfaced to the caller with no record created.
func (d *Dispatcher) Deliver(ctx context.Context, endpointID string, event *domain.Event) (*domain.DeliveryRecord, error) {
	endpoint, err := d.resolveTarget(ctx, endpointID, event)
	if err != nil {
		return nil, err
	}
	return d.createDelivery(ctx, endpoint, event)
}

// DeliverNow targets one endpoint and performs the first attempt inline
// instead of queueing it, returning the finalized record. Follow-up
// retries, if any, are scheduled on the retry queue as usual. Used for
// synchronous test deliveries.
func (d *Dispatcher) DeliverNow(ctx context.Context, endpointID string, event *domain.Event) (*domain.DeliveryRecord, error) {
	endpoint, err := d.resolveTarget(ctx, endpointID, event)
	if err != nil {
		return nil, err
	}

	rec, err := d.newRecord(ctx, endpoint, event)
	if err != nil {
		return nil, err
	}

	outcome := d.attempt(ctx, endpoint, rec)
	if err := d.finalize(ctx, rec, endpoint, outcome); err != nil {
		return nil, err
	}
	return d.records.Get(ctx, rec.ID)
}

// resolveTarget validates the event and resolves a directly targeted
// endpoint. The endpoint must be active and subscribed to the event's
// type; violations are configuration errors surfaced with no record
// created.
func (d *Dispatcher) resolveTarget(ctx context.Context, endpointID string, event *domain.Event) (*domain.Endpoint, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	endpoint, err := d.endpoints.Get(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if !endpoint.Active {
		return nil, domain.ErrEndpointInactive
	}
	if !endpoint.SubscribesTo(event.Type) {
		return nil, domain.ErrNotSubscribed
	}
	return endpoint, nil
}

func (d *Dispatcher) createDelivery(ctx context.Context, endpoint *domain.Endpoint, event *domain.Event) (*domain.DeliveryRecord, error) {
	rec, err := d.newRecord(ctx, endpoint, event)
	if err != nil {
		return nil, err
	}

	job, err := queue.NewJob(rec.ID, queue.KindDeliver, DeliveryJob{DeliveryID: rec.ID})
	if err != nil {
		return nil, err
	}
	if err := d.broker.Enqueue(ctx, queue.QueueDelivery, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue delivery: %w", err)
	}

	d.logger.Debug("delivery created",
		"delivery_id", rec.ID,
		"endpoint_id", endpoint.ID,
		"event_id", event.ID,
	)
	return rec, nil
}

// newRecord builds and persists the delivery record. Creation is keyed on
// the deterministic delivery id; recreating an existing delivery is a
// store-level no-op.
func (d *Dispatcher) newRecord(ctx context.Context, endpoint *domain.Endpoint, event *domain.Event) (*domain.DeliveryRecord, error) {
	payload, sig, err := buildPayload(event, endpoint.Secret)
	if err != nil {
		return nil, err
	}

	policy := endpoint.RetryPolicy
	if err := policy.Validate(); err != nil {
		policy = domain.DefaultRetryPolicy()
	}

	now := d.clock.Now()
	rec := &domain.DeliveryRecord{
		ID:          deliveryID(event.ID, endpoint.ID),
		EndpointID:  endpoint.ID,
		EventID:     event.ID,
		EventType:   event.Type,
		Payload:     payload,
		Signature:   sig,
		Status:      domain.DeliveryStatusPending,
		MaxAttempts: policy.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create delivery record: %w", err)
	}

	if d.metrics != nil {
		d.metrics.DeliveriesCreated.Inc()
	}
	return rec, nil
}

// Execute is the queue handler for the delivery and retry queues. It is
// idempotent: a job redelivered for a record that already reached a
// terminal state completes without transmitting anything.
func (d *Dispatcher) Execute(ctx context.Context, job *queue.Job) error {
	var payload DeliveryJob
	if err := job.Unmarshal(&payload); err != nil {
		return err
	}

	rec, err := d.records.Get(ctx, payload.DeliveryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d.logger.Warn("delivery record gone, dropping job", "delivery_id", payload.DeliveryID)
			return nil
		}
		return err
	}
	if rec.Status.Terminal() {
		d.logger.Debug("delivery already finalized, dropping job",
			"delivery_id", rec.ID,
			"status", rec.Status,
		)
		return nil
	}

	endpoint, err := d.endpoints.Get(ctx, rec.EndpointID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err != nil || !endpoint.Active {
		return d.abort(ctx, rec, "endpoint inactive")
	}

	if delay, reason := d.throttled(endpoint.ID); reason != "" {
		if d.metrics != nil {
			d.metrics.ThrottledDeliveries.WithLabelValues(endpoint.ID, reason).Inc()
		}
		d.logger.Debug("delivery throttled",
			"delivery_id", rec.ID,
			"endpoint_id", endpoint.ID,
			"reason", reason,
		)
		return queue.RetryAfter(delay)
	}

	outcome := d.attempt(ctx, endpoint, rec)
	return d.finalize(ctx, rec, endpoint, outcome)
}

// throttled reports whether the endpoint is currently rate limited or has
// an open circuit breaker, and the delay to wait before the next try.
func (d *Dispatcher) throttled(endpointID string) (time.Duration, string) {
	if d.limiters != nil && !d.limiters.Allow(endpointID) {
		delay := d.limiters.Delay(endpointID)
		if delay <= 0 {
			delay = throttleDelay
		}
		return delay, "rate_limited"
	}
	if d.breakers != nil && d.breakers.State(endpointID) == resilience.BreakerOpen {
		return throttleDelay, "circuit_open"
	}
	return 0, ""
}

// attempt performs one HTTP POST and classifies the result. It never
// returns an error; every failure mode becomes part of the outcome.
func (d *Dispatcher) attempt(ctx context.Context, endpoint *domain.Endpoint, rec *domain.DeliveryRecord) record.AttemptOutcome {
	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = d.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := d.clock.Now()
	outcome := d.post(ctx, endpoint, rec)
	duration := time.Since(start)

	if d.breakers != nil {
		d.breakers.Execute(endpoint.ID, func() (interface{}, error) {
			if outcome.Delivered || (outcome.StatusCode != nil && *outcome.StatusCode < 500) {
				return nil, nil
			}
			return nil, errors.New("delivery attempt failed")
		})
	}

	if d.metrics != nil {
		d.metrics.AttemptsTotal.Inc()
		d.metrics.AttemptDuration.Observe(duration.Seconds())
	}
	return outcome
}

func (d *Dispatcher) post(ctx context.Context, endpoint *domain.Endpoint, rec *domain.DeliveryRecord) record.AttemptOutcome {
	body := signedBody(rec.Payload, rec.Signature)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return errorOutcome(fmt.Sprintf("failed to create request: %v", err), false)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.config.UserAgent)
	req.Header.Set("X-Event-Id", rec.EventID)
	req.Header.Set("X-Event-Type", rec.EventType)
	req.Header.Set("X-Timestamp", strconv.FormatInt(d.clock.Now().Unix(), 10))
	req.Header.Set("X-Signature", rec.Signature)
	for _, h := range endpoint.Headers {
		req.Header.Set(h.Name, h.Value)
	}
	if d.credentials != nil {
		creds, err := d.credentials.Resolve(ctx, endpoint)
		if err != nil {
			return errorOutcome(fmt.Sprintf("credential lookup failed: %v", err), true)
		}
		for _, h := range creds {
			req.Header.Set(h.Name, h.Value)
		}
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return errorOutcome(err.Error(), true)
	}
	defer resp.Body.Close()

	responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	outcome := record.AttemptOutcome{StatusCode: &resp.StatusCode}
	if len(responseBody) > 0 {
		s := string(responseBody)
		outcome.ResponseBody = &s
	}

	switch {
	case resp.StatusCode < 400:
		outcome.Delivered = true
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		outcome.Retryable = true
	case resp.StatusCode < 500:
		// Explicit rejection: the payload will not get better on its own.
		reason := fmt.Sprintf("rejected with status %d", resp.StatusCode)
		outcome.Error = &reason
	default:
		outcome.Retryable = true
	}
	return outcome
}

func errorOutcome(msg string, retryable bool) record.AttemptOutcome {
	return record.AttemptOutcome{Error: &msg, Retryable: retryable}
}

// finalize records the attempt outcome and, when the record moved to
// retrying, enqueues the next attempt with its backoff delay.
func (d *Dispatcher) finalize(ctx context.Context, rec *domain.DeliveryRecord, endpoint *domain.Endpoint, outcome record.AttemptOutcome) error {
	policy := endpoint.RetryPolicy
	if err := policy.Validate(); err != nil {
		policy = domain.DefaultRetryPolicy()
	}

	// Candidate activation time for the next attempt; the store applies it
	// only if the record actually transitions to retrying.
	if !outcome.Delivered && outcome.Retryable {
		next := retry.NextAttemptTime(d.clock.Now(), rec.AttemptCount+1, policy)
		outcome.NextRetryAt = &next
	}

	updated, err := d.records.RecordAttemptResult(ctx, rec.ID, outcome)
	if err != nil {
		if errors.Is(err, domain.ErrTerminal) {
			d.logger.Debug("record finalized concurrently", "delivery_id", rec.ID)
			return nil
		}
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	switch updated.Status {
	case domain.DeliveryStatusDelivered:
		if d.metrics != nil {
			d.metrics.DeliveriesDelivered.Inc()
		}
		d.logger.Info("delivery succeeded",
			"delivery_id", updated.ID,
			"endpoint_id", updated.EndpointID,
			"attempt", updated.AttemptCount,
			"status_code", derefInt(updated.ResponseCode),
		)
		return nil

	case domain.DeliveryStatusRetrying:
		if d.metrics != nil {
			d.metrics.DeliveriesRetrying.Inc()
		}
		return d.scheduleRetry(ctx, updated)

	default:
		if d.metrics != nil {
			d.metrics.DeliveriesFailed.Inc()
		}
		d.logger.Warn("delivery failed permanently",
			"delivery_id", updated.ID,
			"endpoint_id", updated.EndpointID,
			"attempts", updated.AttemptCount,
			"error", derefString(updated.LastError),
		)
		return nil
	}
}

// scheduleRetry enqueues the next attempt. The job id is derived from the
// delivery id and attempt count, so a redelivered job scheduling the same
// retry twice collapses onto one queued job.
func (d *Dispatcher) scheduleRetry(ctx context.Context, rec *domain.DeliveryRecord) error {
	if rec.NextRetryAt == nil {
		return fmt.Errorf("retrying record %s has no next retry time", rec.ID)
	}

	jobID := fmt.Sprintf("retry:%s:%d", rec.ID, rec.AttemptCount)
	job, err := queue.NewJob(jobID, queue.KindRetry, DeliveryJob{DeliveryID: rec.ID})
	if err != nil {
		return err
	}

	delay := rec.NextRetryAt.Sub(d.clock.Now())
	if delay < 0 {
		delay = 0
	}
	if err := d.broker.EnqueueDelayed(ctx, queue.QueueRetry, job, delay); err != nil {
		return fmt.Errorf("failed to enqueue retry: %w", err)
	}

	d.logger.Info("retry scheduled",
		"delivery_id", rec.ID,
		"attempt", rec.AttemptCount,
		"next_retry_at", rec.NextRetryAt,
	)
	return nil
}

// abort finalizes a delivery without an HTTP attempt, e.g. when its
// endpoint was deactivated after the job was queued.
func (d *Dispatcher) abort(ctx context.Context, rec *domain.DeliveryRecord, reason string) error {
	if _, err := d.records.Fail(ctx, rec.ID, reason); err != nil {
		if errors.Is(err, domain.ErrTerminal) || errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if d.metrics != nil {
		d.metrics.DeliveriesFailed.Inc()
	}
	d.logger.Warn("delivery aborted",
		"delivery_id", rec.ID,
		"endpoint_id", rec.EndpointID,
		"reason", reason,
	)
	return nil
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
