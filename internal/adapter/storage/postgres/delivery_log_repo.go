package postgres

import (
	"context"
	"fmt"

	"partner-webhooks/internal/core/domain"

	"github.com/google/uuid"
)

const deliveryColumns = `id, subscription_id, event_id, event_type, attempt, status_code, success,
	response_time_ms, error_message, delivered_at, created_at`

// DeliveryLogRepo implements ports.DeliveryLogRepository. Rows are only
// ever inserted.
type DeliveryLogRepo struct {
	pool Pool
}

// NewDeliveryLogRepo creates a new DeliveryLogRepo.
func NewDeliveryLogRepo(pool Pool) *DeliveryLogRepo {
	return &DeliveryLogRepo{pool: pool}
}

// Append records one delivery attempt.
func (r *DeliveryLogRepo) Append(ctx context.Context, e *domain.DeliveryLogEntry) error {
	query := `INSERT INTO webhook_delivery_logs (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.SubscriptionID, e.EventID, string(e.EventType), e.Attempt, e.StatusCode, e.Success,
		e.ResponseTimeMs, e.ErrorMessage, e.DeliveredAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// ListRecent returns at most limit attempts for a subscription, newest first.
func (r *DeliveryLogRepo) ListRecent(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]domain.DeliveryLogEntry, error) {
	query := `SELECT ` + deliveryColumns + `
		FROM webhook_delivery_logs
		WHERE subscription_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.DeliveryLogEntry
	for rows.Next() {
		var e domain.DeliveryLogEntry
		var eventType string
		if err := rows.Scan(
			&e.ID, &e.SubscriptionID, &e.EventID, &eventType, &e.Attempt, &e.StatusCode, &e.Success,
			&e.ResponseTimeMs, &e.ErrorMessage, &e.DeliveredAt, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		e.EventType = domain.EventType(eventType)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	return entries, nil
}
