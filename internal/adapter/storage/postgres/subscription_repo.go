package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const subscriptionColumns = `id, partner_id, location_id, url, secret_enc, events, is_active, headers,
	failure_count, last_triggered_at, last_success_at, last_failure_at, created_at, updated_at`

// SubscriptionRepo implements ports.SubscriptionRepository. events and
// headers are JSONB; rows with malformed values still load.
type SubscriptionRepo struct {
	pool Pool
	log  zerolog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo.
func NewSubscriptionRepo(pool Pool, log zerolog.Logger) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool, log: logger.WithComponent(log, "subscription_repo")}
}

// Create inserts a new subscription.
func (r *SubscriptionRepo) Create(ctx context.Context, s *domain.WebhookSubscription) error {
	events, headers, err := encodeJSONColumns(s.Events, s.Headers)
	if err != nil {
		return err
	}

	query := `INSERT INTO webhook_subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.pool.Exec(ctx, query,
		s.ID, s.PartnerID, s.LocationID, s.URL, s.SecretEnc, events, s.IsActive, headers,
		s.FailureCount, s.LastTriggeredAt, s.LastSuccessAt, s.LastFailureAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetByID fetches a subscription owned by partnerID.
func (r *SubscriptionRepo) GetByID(ctx context.Context, id, partnerID uuid.UUID) (*domain.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions WHERE id = $1 AND partner_id = $2`

	sub, err := r.scan(r.pool.QueryRow(ctx, query, id, partnerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// ListByPartner returns all subscriptions of partnerID in creation order.
func (r *SubscriptionRepo) ListByPartner(ctx context.Context, partnerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions WHERE partner_id = $1
		ORDER BY created_at, id`
	return r.list(ctx, "list subscriptions", query, partnerID)
}

// Update applies patch in a single statement so concurrent readers see
// either the old or the new row, including the secret.
func (r *SubscriptionRepo) Update(ctx context.Context, id, partnerID uuid.UUID, patch ports.SubscriptionPatch) (*domain.WebhookSubscription, error) {
	var events, headers []byte
	var err error
	if patch.Events != nil {
		if events, err = json.Marshal(patch.Events); err != nil {
			return nil, fmt.Errorf("encode events: %w", err)
		}
	}
	if patch.HeadersSet && patch.Headers != nil {
		if headers, err = json.Marshal(patch.Headers); err != nil {
			return nil, fmt.Errorf("encode headers: %w", err)
		}
	}

	query := `UPDATE webhook_subscriptions SET
			url           = COALESCE($3::text, url),
			events        = COALESCE($4::jsonb, events),
			is_active     = COALESCE($5::boolean, is_active),
			location_id   = CASE WHEN $6::boolean THEN $7::uuid ELSE location_id END,
			headers       = CASE WHEN $8::boolean THEN $9::jsonb ELSE headers END,
			secret_enc    = COALESCE($10::text, secret_enc),
			failure_count = CASE WHEN $11::boolean THEN 0 ELSE failure_count END,
			updated_at    = $12
		WHERE id = $1 AND partner_id = $2
		RETURNING ` + subscriptionColumns

	sub, err := r.scan(r.pool.QueryRow(ctx, query,
		id, partnerID,
		patch.URL, events, patch.IsActive,
		patch.LocationIDSet, patch.LocationID,
		patch.HeadersSet, headers,
		patch.SecretEnc, patch.ResetFailures, patch.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return sub, nil
}

// Delete removes a subscription owned by partnerID.
func (r *SubscriptionRepo) Delete(ctx context.Context, id, partnerID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1 AND partner_id = $2`, id, partnerID)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListActiveForEvent resolves the delivery targets for an event.
func (r *SubscriptionRepo) ListActiveForEvent(ctx context.Context, partnerID uuid.UUID, eventType domain.EventType, locationID *uuid.UUID) ([]domain.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions
		WHERE partner_id = $1
		  AND is_active
		  AND events ? $2::text
		  AND (location_id IS NULL OR location_id = $3::uuid)
		ORDER BY created_at, id`
	return r.list(ctx, "list subscriptions for event", query, partnerID, string(eventType), locationID)
}

// RecordSuccess stamps a successful delivery.
func (r *SubscriptionRepo) RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE webhook_subscriptions SET last_triggered_at = $2, last_success_at = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("record delivery success: %w", err)
	}
	return nil
}

// RecordFailure increments failure_count in place, deactivating the
// subscription when disableAfter > 0 and the new count reaches it.
func (r *SubscriptionRepo) RecordFailure(ctx context.Context, id uuid.UUID, at time.Time, disableAfter int) error {
	query := `UPDATE webhook_subscriptions SET
			failure_count     = failure_count + 1,
			last_triggered_at = $2,
			last_failure_at   = $2,
			is_active         = CASE WHEN $3::int > 0 AND failure_count + 1 >= $3::int THEN FALSE ELSE is_active END
		WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, at, disableAfter); err != nil {
		return fmt.Errorf("record delivery failure: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) list(ctx context.Context, op, query string, args ...any) ([]domain.WebhookSubscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var subs []domain.WebhookSubscription
	for rows.Next() {
		sub, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

func (r *SubscriptionRepo) scan(row pgx.Row) (*domain.WebhookSubscription, error) {
	s := &domain.WebhookSubscription{}
	var events, headers []byte
	if err := row.Scan(
		&s.ID, &s.PartnerID, &s.LocationID, &s.URL, &s.SecretEnc, &events, &s.IsActive, &headers,
		&s.FailureCount, &s.LastTriggeredAt, &s.LastSuccessAt, &s.LastFailureAt, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Events = r.decodeEvents(s.ID, events)
	s.Headers = r.decodeHeaders(s.ID, headers)
	return s, nil
}

// decodeEvents never fails: malformed JSON yields an empty list and unknown
// tags are dropped, each with a warning.
func (r *SubscriptionRepo) decodeEvents(id uuid.UUID, raw []byte) []domain.EventType {
	if len(raw) == 0 {
		return []domain.EventType{}
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		r.log.Warn().Err(err).Str("subscription_id", id.String()).Msg("malformed stored events, using empty list")
		return []domain.EventType{}
	}
	events, invalid := domain.ParseEventTypes(tags)
	if len(invalid) > 0 {
		r.log.Warn().Strs("invalid", invalid).Str("subscription_id", id.String()).Msg("dropping unknown stored event types")
	}
	if events == nil {
		events = []domain.EventType{}
	}
	return events
}

func (r *SubscriptionRepo) decodeHeaders(id uuid.UUID, raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal(raw, &headers); err != nil {
		r.log.Warn().Err(err).Str("subscription_id", id.String()).Msg("malformed stored headers, ignoring")
		return nil
	}
	return headers
}

func encodeJSONColumns(events []domain.EventType, headers map[string]string) (eventsJSON, headersJSON []byte, err error) {
	if events == nil {
		events = []domain.EventType{}
	}
	if eventsJSON, err = json.Marshal(events); err != nil {
		return nil, nil, fmt.Errorf("encode events: %w", err)
	}
	if headers != nil {
		if headersJSON, err = json.Marshal(headers); err != nil {
			return nil, nil, fmt.Errorf("encode headers: %w", err)
		}
	}
	return eventsJSON, headersJSON, nil
}
