package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/internal/metrics"
	"partner-webhooks/internal/worker"
	"partner-webhooks/pkg/apperror"
	"partner-webhooks/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// maxResponseDrain bounds how much of a receiver's response body is read.
	maxResponseDrain = 4096
	// maxErrorMessageLen bounds error_message in the delivery log.
	maxErrorMessageLen = 500

	defaultUserAgent = "partner-webhooks/1.0"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TaskSubmitter accepts background work. *worker.Pool implements it.
type TaskSubmitter interface {
	Submit(name string, fn worker.TaskFunc) error
}

// DispatcherConfig tunes delivery.
type DispatcherConfig struct {
	Timeout              time.Duration // per attempt
	Retry                RetryPolicy
	Fanout               int // concurrent deliveries per event
	DisableAfterFailures int // 0 = never
	UserAgent            string
	DedupeTTL            time.Duration
}

// Dispatcher resolves subscriptions for domain events and delivers signed
// payloads to them. It implements ports.EventPublisher.
type Dispatcher struct {
	subRepo      ports.SubscriptionRepository
	deliveryRepo ports.DeliveryLogRepository
	encSvc       ports.EncryptionService
	sigSvc       ports.SignatureService
	client       HTTPClient
	pool         TaskSubmitter
	deduper      ports.EventDeduper // optional
	cfg          DispatcherConfig
	log          zerolog.Logger

	now      func() time.Time
	schedule func(delay time.Duration, fn func())
}

// NewDispatcher creates a Dispatcher. deduper may be nil.
func NewDispatcher(
	subRepo ports.SubscriptionRepository,
	deliveryRepo ports.DeliveryLogRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	client HTTPClient,
	pool TaskSubmitter,
	deduper ports.EventDeduper,
	cfg DispatcherConfig,
	log zerolog.Logger,
) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	return &Dispatcher{
		subRepo:      subRepo,
		deliveryRepo: deliveryRepo,
		encSvc:       encSvc,
		sigSvc:       sigSvc,
		client:       client,
		pool:         pool,
		deduper:      deduper,
		cfg:          cfg,
		log:          logger.WithComponent(log, "dispatcher"),
		now:          func() time.Time { return time.Now().UTC() },
		schedule:     afterFunc,
	}
}

// Publish validates event and queues it for delivery. It fails only when
// the event is malformed or the queue cannot take it; delivery outcomes
// are recorded in the delivery log.
func (d *Dispatcher) Publish(ctx context.Context, event domain.Event) error {
	if !event.Type.IsValid() {
		return apperror.ErrInvalidEvents([]string{string(event.Type)}, domain.EventTypeNames())
	}
	if event.PartnerID == uuid.Nil {
		return apperror.Validation("partner_id is required")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = d.now()
	}
	if len(event.Data) == 0 {
		event.Data = json.RawMessage("{}")
	}

	err := d.pool.Submit("dispatch:"+event.ID.String(), func(taskCtx context.Context) error {
		return d.Dispatch(taskCtx, event)
	})
	if err != nil {
		metrics.DispatchQueueRejections.Inc()
		d.log.Warn().Err(err).
			Str("event_id", event.ID.String()).
			Str("event_type", string(event.Type)).
			Msg("event rejected by dispatch queue")
		return apperror.ErrDispatchQueueFull(err)
	}

	d.log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("partner_id", event.PartnerID.String()).
		Msg("event queued")
	return nil
}

// Dispatch makes the first delivery attempt for every matching
// subscription, at most cfg.Fanout at a time. Retries are queued on the
// pool after their backoff delay, so attempts for one subscription stay
// sequential without holding a worker in between.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.Event) error {
	log := d.log.With().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("partner_id", event.PartnerID.String()).
		Logger()

	if d.deduper != nil {
		first, err := d.deduper.FirstSeen(ctx, event.ID.String(), d.cfg.DedupeTTL)
		if err != nil {
			log.Warn().Err(err).Msg("event dedupe unavailable, delivering anyway")
		} else if !first {
			log.Info().Msg("duplicate event dropped")
			return nil
		}
	}

	subs, err := d.subRepo.ListActiveForEvent(ctx, event.PartnerID, event.Type, event.LocationID)
	if err != nil {
		return fmt.Errorf("resolve subscriptions for event %s: %w", event.ID, err)
	}
	if len(subs) == 0 {
		log.Debug().Msg("no matching subscriptions")
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.Fanout)
	for i := range subs {
		sub := subs[i]
		g.Go(func() error {
			return d.deliver(ctx, sub, event, body, 1)
		})
	}
	return g.Wait()
}

type attemptResult struct {
	statusCode *int
	success    bool
	retryable  bool
	latency    time.Duration
	errMsg     *string
	finishedAt time.Time
}

// deliver makes attempt number n for sub and schedules the next one when
// it fails with a retryable outcome.
func (d *Dispatcher) deliver(ctx context.Context, sub domain.WebhookSubscription, event domain.Event, body []byte, n int) error {
	log := deliveryLogger(d.log, sub, event)

	secret, err := d.encSvc.Decrypt(sub.SecretEnc)
	if err != nil {
		return fmt.Errorf("decrypt secret for subscription %s: %w", sub.ID, err)
	}

	res := d.attempt(ctx, sub, event, body, secret)
	d.record(ctx, log, sub, event, n, res)

	if res.success {
		return nil
	}
	if !res.retryable || !d.cfg.Retry.HasAttemptsLeft(n) {
		log.Warn().Int("attempts", n).Bool("retryable", res.retryable).Msg("webhook delivery gave up")
		return nil
	}

	d.scheduleRetry(log, sub, event, body, n+1)
	return nil
}

// scheduleRetry submits attempt n to the pool once the backoff for the
// previous attempt has elapsed.
func (d *Dispatcher) scheduleRetry(log zerolog.Logger, sub domain.WebhookSubscription, event domain.Event, body []byte, n int) {
	delay := d.cfg.Retry.Delay(n - 1)
	log.Debug().Int("next_attempt", n).Dur("delay", delay).Msg("webhook retry scheduled")

	d.schedule(delay, func() {
		name := fmt.Sprintf("retry:%s:%s:%d", event.ID, sub.ID, n)
		err := d.pool.Submit(name, func(taskCtx context.Context) error {
			return d.retry(taskCtx, sub, event, body, n)
		})
		if err != nil {
			metrics.DispatchQueueRejections.Inc()
			log.Error().Err(err).Int("attempt", n).Msg("webhook retry rejected by dispatch queue")
		}
	})
}

// retry reloads sub before attempt n. Retries stop once the subscription
// is gone or no longer targets the same URL and event.
func (d *Dispatcher) retry(ctx context.Context, sub domain.WebhookSubscription, event domain.Event, body []byte, n int) error {
	fresh, err := d.subRepo.GetByID(ctx, sub.ID, sub.PartnerID)
	if err != nil {
		return fmt.Errorf("reload subscription %s: %w", sub.ID, err)
	}
	if fresh == nil || fresh.URL != sub.URL || !fresh.Matches(event) {
		deliveryLogger(d.log, sub, event).Info().Int("attempts", n-1).Msg("subscription changed, retries stopped")
		return nil
	}
	return d.deliver(ctx, *fresh, event, body, n)
}

func deliveryLogger(log zerolog.Logger, sub domain.WebhookSubscription, event domain.Event) zerolog.Logger {
	return log.With().
		Str("event_id", event.ID.String()).
		Str("subscription_id", sub.ID.String()).
		Logger()
}

func afterFunc(delay time.Duration, fn func()) {
	time.AfterFunc(delay, fn)
}

// attempt performs a single signed POST.
func (d *Dispatcher) attempt(ctx context.Context, sub domain.WebhookSubscription, event domain.Event, body []byte, secret string) attemptResult {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return failedAttempt(err, false, 0, d.now())
	}

	for name, value := range sub.Headers {
		if IsProtectedHeader(name) {
			continue
		}
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set(HeaderEventID, event.ID.String())
	req.Header.Set(HeaderEventType, string(event.Type))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(d.now().Unix(), 10))
	req.Header.Set(HeaderSignature, d.sigSvc.Sign(secret, body))
	req.Header.Set(HeaderSignatureVersion, SignatureVersion)

	start := time.Now()
	resp, err := d.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return failedAttempt(err, IsRetryableError(err), latency, d.now())
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))
	resp.Body.Close()

	status := resp.StatusCode
	res := attemptResult{statusCode: &status, latency: latency, finishedAt: d.now()}
	if domain.IsSuccessStatus(status) {
		res.success = true
		return res
	}
	msg := fmt.Sprintf("unexpected status %d", status)
	res.errMsg = &msg
	res.retryable = IsRetryableStatus(status)
	return res
}

func failedAttempt(err error, retryable bool, latency time.Duration, at time.Time) attemptResult {
	msg := truncateMessage(err.Error(), maxErrorMessageLen)
	return attemptResult{retryable: retryable, latency: latency, errMsg: &msg, finishedAt: at}
}

// truncateMessage cuts msg to at most limit bytes without splitting a rune.
func truncateMessage(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// record appends the delivery log entry and updates the subscription's
// counters. It runs even when ctx is cancelled so the log stays complete.
// Storage errors are logged and never fail the delivery loop.
func (d *Dispatcher) record(ctx context.Context, log zerolog.Logger, sub domain.WebhookSubscription, event domain.Event, attempt int, res attemptResult) {
	ctx = context.WithoutCancel(ctx)

	entry := &domain.DeliveryLogEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		EventID:        event.ID,
		EventType:      event.Type,
		Attempt:        attempt,
		StatusCode:     res.statusCode,
		Success:        res.success,
		ResponseTimeMs: res.latency.Milliseconds(),
		ErrorMessage:   res.errMsg,
		DeliveredAt:    res.finishedAt,
		CreatedAt:      d.now(),
	}
	if err := d.deliveryRepo.Append(ctx, entry); err != nil {
		log.Error().Err(err).Int("attempt", attempt).Msg("failed to append delivery log")
	}

	status := metrics.StatusSuccess
	switch {
	case res.success:
	case res.statusCode == nil:
		status = metrics.StatusError
	default:
		status = metrics.StatusFailure
	}
	metrics.WebhookDeliveries.WithLabelValues(string(event.Type), status).Inc()
	metrics.WebhookLatency.WithLabelValues(string(event.Type), status).Observe(float64(res.latency.Milliseconds()))

	if res.success {
		if err := d.subRepo.RecordSuccess(ctx, sub.ID, res.finishedAt); err != nil {
			log.Error().Err(err).Msg("failed to record delivery success")
		}
		log.Info().Int("attempt", attempt).Int("status", *res.statusCode).Int64("latency_ms", entry.ResponseTimeMs).Msg("webhook delivered")
		return
	}

	if err := d.subRepo.RecordFailure(ctx, sub.ID, res.finishedAt, d.cfg.DisableAfterFailures); err != nil {
		log.Error().Err(err).Msg("failed to record delivery failure")
	}
	ev := log.Warn().Int("attempt", attempt).Bool("retryable", res.retryable)
	if res.statusCode != nil {
		ev = ev.Int("status", *res.statusCode)
	}
	if res.errMsg != nil {
		ev = ev.Str("error", *res.errMsg)
	}
	ev.Msg("webhook delivery failed")
}
