package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/pkg/apperror"

	"github.com/google/uuid"
)

const maxPartnerNameLength = 255

// PartnerServiceImpl implements ports.PartnerService.
type PartnerServiceImpl struct {
	partnerRepo ports.PartnerRepository
	secrets     ports.SecretGenerator
	hashSvc     ports.HashService
	tokenSvc    ports.TokenService
}

// NewPartnerService creates a new PartnerServiceImpl.
func NewPartnerService(
	partnerRepo ports.PartnerRepository,
	secrets ports.SecretGenerator,
	hashSvc ports.HashService,
	tokenSvc ports.TokenService,
) *PartnerServiceImpl {
	return &PartnerServiceImpl{
		partnerRepo: partnerRepo,
		secrets:     secrets,
		hashSvc:     hashSvc,
		tokenSvc:    tokenSvc,
	}
}

// Register creates a partner account.
// Returns the api_key and api_secret (plaintext shown only once).
func (s *PartnerServiceImpl) Register(ctx context.Context, name string) (*ports.PartnerCredentials, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.Validation("name is required")
	}
	if len(name) > maxPartnerNameLength {
		return nil, apperror.Validation(fmt.Sprintf("name must not exceed %d characters", maxPartnerNameLength))
	}

	creds, err := s.secrets.GenerateAPIKey()
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate credentials: %w", err))
	}

	now := time.Now().UTC()
	partner := &domain.Partner{
		ID:            uuid.New(),
		Name:          name,
		APIKey:        creds.APIKey,
		APISecretHash: creds.APISecretHash,
		Status:        domain.PartnerStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.partnerRepo.Create(ctx, partner); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create partner: %w", err))
	}

	return &ports.PartnerCredentials{
		PartnerID: partner.ID,
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
	}, nil
}

// IssueToken validates an API key pair and returns a JWT.
func (s *PartnerServiceImpl) IssueToken(ctx context.Context, apiKey, apiSecret string) (string, time.Time, error) {
	partner, err := s.partnerRepo.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return "", time.Time{}, apperror.ErrDatabaseError(fmt.Errorf("find partner: %w", err))
	}
	if partner == nil {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	// Compare against the stored hash; the plaintext secret is never kept.
	valid, err := s.hashSvc.Verify(apiSecret, partner.APISecretHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify api secret: %w", err))
	}
	if !valid {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	if !partner.IsActive() {
		return "", time.Time{}, apperror.ErrPartnerSuspended()
	}

	token, expiry, err := s.tokenSvc.Generate(partner.ID, partner.APIKey)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	return token, expiry, nil
}

// RotateAPIKey replaces the partner's key pair. Tokens bound to the old key
// stop validating.
func (s *PartnerServiceImpl) RotateAPIKey(ctx context.Context, partnerID uuid.UUID) (*ports.PartnerCredentials, error) {
	if _, err := s.GetProfile(ctx, partnerID); err != nil {
		return nil, err
	}

	creds, err := s.secrets.GenerateAPIKey()
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate credentials: %w", err))
	}

	if err := s.partnerRepo.UpdateCredentials(ctx, partnerID, creds.APIKey, creds.APISecretHash); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update credentials: %w", err))
	}

	return &ports.PartnerCredentials{
		PartnerID: partnerID,
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
	}, nil
}

// GetProfile returns the partner record.
func (s *PartnerServiceImpl) GetProfile(ctx context.Context, partnerID uuid.UUID) (*domain.Partner, error) {
	partner, err := s.partnerRepo.GetByID(ctx, partnerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get partner: %w", err))
	}
	if partner == nil {
		return nil, apperror.ErrNotFound("Partner")
	}
	return partner, nil
}
