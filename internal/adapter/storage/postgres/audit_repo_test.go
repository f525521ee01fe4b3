package postgres

import (
	"context"
	"testing"
	"time"

	"partner-webhooks/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepo(mock)
	partnerID := uuid.New()
	entry := &domain.AuditLog{
		ID:           uuid.New(),
		PartnerID:    &partnerID,
		Action:       domain.AuditActionCreateWebhook,
		ResourceType: "webhook",
		IPAddress:    "10.0.0.1",
		UserAgent:    "curl/8.0",
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(entry.ID, entry.PartnerID, "CREATE_WEBHOOK", "webhook",
			(*string)(nil), (*string)(nil), "10.0.0.1", "curl/8.0", entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}
