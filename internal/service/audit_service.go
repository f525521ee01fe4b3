package service

import (
	"context"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/pkg/logger"

	"github.com/rs/zerolog"
)

type auditService struct {
	repo ports.AuditRepository
	pool TaskSubmitter
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit logs are only written to the logger. Persistence
// runs on pool; with a nil pool it runs inline.
func NewAuditService(repo ports.AuditRepository, pool TaskSubmitter, log zerolog.Logger) ports.AuditService {
	return &auditService{repo: repo, pool: pool, log: logger.WithComponent(log, "audit")}
}

// Log records an audit entry without blocking the request.
func (s *auditService) Log(ctx context.Context, entry *domain.AuditLog) {
	ev := s.log.Info().
		Str("action", string(entry.Action)).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Str("ip", entry.IPAddress)
	if entry.PartnerID != nil {
		ev = ev.Str("partner_id", entry.PartnerID.String())
	}
	ev.Msg("audit")

	if s.repo == nil {
		return
	}

	persist := func(taskCtx context.Context) error {
		return s.repo.Create(taskCtx, entry)
	}
	if s.pool == nil {
		if err := persist(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
		}
		return
	}
	if err := s.pool.Submit("audit:"+string(entry.Action), persist); err != nil {
		s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("audit log dropped")
	}
}
