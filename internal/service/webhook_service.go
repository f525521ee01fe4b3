package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/internal/metrics"
	"partner-webhooks/pkg/apperror"
	"partner-webhooks/pkg/logger"
	"partner-webhooks/pkg/ssrf"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MaxDeliveryPageSize bounds ListDeliveries.
	MaxDeliveryPageSize = 100
)

// URLChecker validates webhook destinations. *ssrf.Guard implements it.
type URLChecker interface {
	CheckURL(ctx context.Context, raw string) (*url.URL, error)
}

// WebhookServiceConfig tunes the subscription store.
type WebhookServiceConfig struct {
	MaxHeaders       int
	RecentDeliveries int
}

// WebhookServiceImpl implements ports.WebhookService.
type WebhookServiceImpl struct {
	subRepo      ports.SubscriptionRepository
	deliveryRepo ports.DeliveryLogRepository
	encSvc       ports.EncryptionService
	secrets      ports.SecretGenerator
	guard        URLChecker
	cfg          WebhookServiceConfig
	log          zerolog.Logger
	now          func() time.Time
}

// NewWebhookService creates the subscription store service.
func NewWebhookService(
	subRepo ports.SubscriptionRepository,
	deliveryRepo ports.DeliveryLogRepository,
	encSvc ports.EncryptionService,
	secrets ports.SecretGenerator,
	guard URLChecker,
	cfg WebhookServiceConfig,
	log zerolog.Logger,
) *WebhookServiceImpl {
	if cfg.MaxHeaders <= 0 {
		cfg.MaxHeaders = DefaultMaxCustomHeaders
	}
	if cfg.RecentDeliveries <= 0 {
		cfg.RecentDeliveries = domain.RecentDeliveryLimit
	}
	return &WebhookServiceImpl{
		subRepo:      subRepo,
		deliveryRepo: deliveryRepo,
		encSvc:       encSvc,
		secrets:      secrets,
		guard:        guard,
		cfg:          cfg,
		log:          logger.WithComponent(log, "webhook_service"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a subscription and returns it with the plaintext secret.
func (s *WebhookServiceImpl) Create(ctx context.Context, req ports.CreateSubscriptionRequest) (*ports.SubscriptionResult, error) {
	if err := s.checkURL(ctx, req.PartnerID, req.URL); err != nil {
		return nil, err
	}

	events, err := parseEvents(req.Events)
	if err != nil {
		return nil, err
	}

	headers, err := normalizeHeaders(req.Headers, s.cfg.MaxHeaders)
	if err != nil {
		return nil, apperror.ErrInvalidWebhookHeaders(err.Error())
	}

	secret, secretEnc, err := s.newSecret()
	if err != nil {
		return nil, err
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	now := s.now()
	sub := &domain.WebhookSubscription{
		ID:         uuid.New(),
		PartnerID:  req.PartnerID,
		LocationID: req.LocationID,
		URL:        req.URL,
		SecretEnc:  secretEnc,
		Events:     events,
		IsActive:   isActive,
		Headers:    headers,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.subRepo.Create(ctx, sub); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create subscription: %w", err))
	}

	s.log.Info().
		Str("partner_id", sub.PartnerID.String()).
		Str("subscription_id", sub.ID.String()).
		Int("events", len(sub.Events)).
		Msg("webhook subscription created")

	return &ports.SubscriptionResult{Subscription: *sub, Secret: secret}, nil
}

// List returns every subscription owned by partnerID.
func (s *WebhookServiceImpl) List(ctx context.Context, partnerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	subs, err := s.subRepo.ListByPartner(ctx, partnerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list subscriptions: %w", err))
	}
	if subs == nil {
		subs = []domain.WebhookSubscription{}
	}
	return subs, nil
}

// Get returns one subscription with its most recent delivery attempts.
func (s *WebhookServiceImpl) Get(ctx context.Context, id, partnerID uuid.UUID) (*ports.SubscriptionDetail, error) {
	sub, err := s.getOwned(ctx, id, partnerID)
	if err != nil {
		return nil, err
	}

	deliveries, err := s.deliveryRepo.ListRecent(ctx, sub.ID, s.cfg.RecentDeliveries)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list deliveries: %w", err))
	}
	if deliveries == nil {
		deliveries = []domain.DeliveryLogEntry{}
	}

	return &ports.SubscriptionDetail{Subscription: *sub, RecentDeliveries: deliveries}, nil
}

// Update applies a partial update. Only fields present in req are
// validated; a new url or events list resets the failure counter.
func (s *WebhookServiceImpl) Update(ctx context.Context, req ports.UpdateSubscriptionRequest) (*ports.SubscriptionResult, error) {
	patch := ports.SubscriptionPatch{
		IsActive:      req.IsActive,
		LocationIDSet: req.LocationIDSet,
		LocationID:    req.LocationID,
		UpdatedAt:     s.now(),
	}

	if req.URL != nil {
		if err := s.checkURL(ctx, req.PartnerID, *req.URL); err != nil {
			return nil, err
		}
		patch.URL = req.URL
		patch.ResetFailures = true
	}

	if req.Events != nil {
		events, err := parseEvents(*req.Events)
		if err != nil {
			return nil, err
		}
		patch.Events = events
		patch.ResetFailures = true
	}

	if req.HeadersSet {
		headers, err := normalizeHeaders(req.Headers, s.cfg.MaxHeaders)
		if err != nil {
			return nil, apperror.ErrInvalidWebhookHeaders(err.Error())
		}
		patch.HeadersSet = true
		patch.Headers = headers
	}

	var secret string
	if req.RegenerateSecret {
		plain, enc, err := s.newSecret()
		if err != nil {
			return nil, err
		}
		secret = plain
		patch.SecretEnc = &enc
	}

	sub, err := s.subRepo.Update(ctx, req.ID, req.PartnerID, patch)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update subscription: %w", err))
	}
	if sub == nil {
		return nil, apperror.ErrNotFound("Webhook subscription")
	}

	s.log.Info().
		Str("partner_id", req.PartnerID.String()).
		Str("subscription_id", sub.ID.String()).
		Bool("secret_rotated", req.RegenerateSecret).
		Bool("failures_reset", patch.ResetFailures).
		Msg("webhook subscription updated")

	return &ports.SubscriptionResult{Subscription: *sub, Secret: secret}, nil
}

// Delete hard-deletes a subscription. Its delivery log is kept.
func (s *WebhookServiceImpl) Delete(ctx context.Context, id, partnerID uuid.UUID) error {
	deleted, err := s.subRepo.Delete(ctx, id, partnerID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("delete subscription: %w", err))
	}
	if !deleted {
		return apperror.ErrNotFound("Webhook subscription")
	}

	s.log.Info().
		Str("partner_id", partnerID.String()).
		Str("subscription_id", id.String()).
		Msg("webhook subscription deleted")
	return nil
}

// ListDeliveries returns up to limit delivery attempts, most recent first.
func (s *WebhookServiceImpl) ListDeliveries(ctx context.Context, id, partnerID uuid.UUID, limit int) ([]domain.DeliveryLogEntry, error) {
	if limit <= 0 {
		limit = s.cfg.RecentDeliveries
	}
	if limit > MaxDeliveryPageSize {
		limit = MaxDeliveryPageSize
	}

	sub, err := s.getOwned(ctx, id, partnerID)
	if err != nil {
		return nil, err
	}

	entries, err := s.deliveryRepo.ListRecent(ctx, sub.ID, limit)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list deliveries: %w", err))
	}
	if entries == nil {
		entries = []domain.DeliveryLogEntry{}
	}
	return entries, nil
}

func (s *WebhookServiceImpl) getOwned(ctx context.Context, id, partnerID uuid.UUID) (*domain.WebhookSubscription, error) {
	sub, err := s.subRepo.GetByID(ctx, id, partnerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get subscription: %w", err))
	}
	if sub == nil {
		return nil, apperror.ErrNotFound("Webhook subscription")
	}
	return sub, nil
}

func (s *WebhookServiceImpl) newSecret() (plain, enc string, err error) {
	plain, err = s.secrets.GenerateWebhookSecret()
	if err != nil {
		return "", "", apperror.InternalError(fmt.Errorf("generate webhook secret: %w", err))
	}
	enc, err = s.encSvc.Encrypt(plain)
	if err != nil {
		return "", "", apperror.ErrEncryptionFailure(fmt.Errorf("encrypt webhook secret: %w", err))
	}
	return plain, enc, nil
}

// checkURL runs the SSRF guard and maps its errors. Blocked targets are
// logged with the attempted host and counted.
func (s *WebhookServiceImpl) checkURL(ctx context.Context, partnerID uuid.UUID, raw string) error {
	if raw == "" {
		return apperror.ErrInvalidWebhookURL()
	}

	_, err := s.guard.CheckURL(ctx, raw)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ssrf.ErrURLTooLong):
		return apperror.ErrWebhookURLTooLong(domain.MaxWebhookURLLength)
	case errors.Is(err, ssrf.ErrHTTPSRequired):
		return apperror.ErrWebhookHTTPSRequired()
	case errors.Is(err, ssrf.ErrBlockedHost), errors.Is(err, ssrf.ErrBlockedAddress), errors.Is(err, ssrf.ErrUnresolvable):
		reason := blockReason(err)
		metrics.SSRFBlocked.WithLabelValues(reason).Inc()
		s.log.Warn().
			Err(err).
			Str("partner_id", partnerID.String()).
			Str("hostname", hostnameOf(raw)).
			Str("reason", reason).
			Msg("webhook url rejected by ssrf guard")
		return apperror.ErrWebhookURLBlocked().WithDetail(err.Error())
	default:
		return apperror.ErrInvalidWebhookURL().WithDetail(err.Error())
	}
}

func blockReason(err error) string {
	switch {
	case errors.Is(err, ssrf.ErrBlockedHost):
		return "blocked_host"
	case errors.Is(err, ssrf.ErrBlockedAddress):
		return "blocked_address"
	default:
		return "unresolvable"
	}
}

func hostnameOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func parseEvents(raw []string) ([]domain.EventType, error) {
	if len(raw) == 0 {
		return nil, apperror.ErrEventsRequired()
	}
	events, invalid := domain.ParseEventTypes(raw)
	if len(invalid) > 0 {
		return nil, apperror.ErrInvalidEvents(invalid, domain.EventTypeNames())
	}
	return events, nil
}
