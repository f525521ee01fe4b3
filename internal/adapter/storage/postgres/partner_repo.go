package postgres

import (
	"context"
	"errors"
	"fmt"

	"partner-webhooks/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const partnerColumns = `id, name, api_key, api_secret_hash, status, created_at, updated_at`

// PartnerRepo implements ports.PartnerRepository.
type PartnerRepo struct {
	pool Pool
}

// NewPartnerRepo creates a new PartnerRepo.
func NewPartnerRepo(pool Pool) *PartnerRepo {
	return &PartnerRepo{pool: pool}
}

// Create inserts a new partner into the database.
func (r *PartnerRepo) Create(ctx context.Context, p *domain.Partner) error {
	query := `INSERT INTO partners (` + partnerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.Name, p.APIKey, p.APISecretHash, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert partner: %w", err)
	}
	return nil
}

// GetByID fetches a partner by its UUID.
func (r *PartnerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners WHERE id = $1`
	return r.getOne(ctx, "get partner by id", query, id)
}

// GetByAPIKey fetches a partner by its public API key.
func (r *PartnerRepo) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners WHERE api_key = $1`
	return r.getOne(ctx, "get partner by api_key", query, apiKey)
}

// UpdateCredentials replaces the key pair in one statement.
func (r *PartnerRepo) UpdateCredentials(ctx context.Context, id uuid.UUID, apiKey, apiSecretHash string) error {
	query := `UPDATE partners SET api_key = $2, api_secret_hash = $3, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, apiKey, apiSecretHash)
	if err != nil {
		return fmt.Errorf("update partner credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update partner credentials: partner %s not found", id)
	}
	return nil
}

func (r *PartnerRepo) getOne(ctx context.Context, op, query string, arg any) (*domain.Partner, error) {
	p := &domain.Partner{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.Name, &p.APIKey, &p.APISecretHash, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}
