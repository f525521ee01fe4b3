// Package memory provides mutex-guarded in-process implementations of the
// storage ports. It backs the "memory" database driver used for local
// development and HTTP tests; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"

	"github.com/google/uuid"
)

// PartnerRepo implements ports.PartnerRepository.
type PartnerRepo struct {
	mu       sync.RWMutex
	partners map[uuid.UUID]domain.Partner
}

func NewPartnerRepo() *PartnerRepo {
	return &PartnerRepo{partners: make(map[uuid.UUID]domain.Partner)}
}

func (r *PartnerRepo) Create(_ context.Context, p *domain.Partner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.partners[p.ID]; ok {
		return fmt.Errorf("insert partner: duplicate id %s", p.ID)
	}
	for _, existing := range r.partners {
		if existing.APIKey == p.APIKey {
			return fmt.Errorf("insert partner: duplicate api_key")
		}
	}
	r.partners[p.ID] = *p
	return nil
}

func (r *PartnerRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Partner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.partners[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *PartnerRepo) GetByAPIKey(_ context.Context, apiKey string) (*domain.Partner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.partners {
		if p.APIKey == apiKey {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *PartnerRepo) UpdateCredentials(_ context.Context, id uuid.UUID, apiKey, apiSecretHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.partners[id]
	if !ok {
		return fmt.Errorf("update partner credentials: partner %s not found", id)
	}
	p.APIKey = apiKey
	p.APISecretHash = apiSecretHash
	p.UpdatedAt = time.Now().UTC()
	r.partners[id] = p
	return nil
}

// SubscriptionRepo implements ports.SubscriptionRepository. Returned values
// never alias stored state.
type SubscriptionRepo struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]domain.WebhookSubscription
}

func NewSubscriptionRepo() *SubscriptionRepo {
	return &SubscriptionRepo{subs: make(map[uuid.UUID]domain.WebhookSubscription)}
}

func (r *SubscriptionRepo) Create(_ context.Context, s *domain.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s.ID]; ok {
		return fmt.Errorf("insert subscription: duplicate id %s", s.ID)
	}
	r.subs[s.ID] = cloneSubscription(*s)
	return nil
}

func (r *SubscriptionRepo) GetByID(_ context.Context, id, partnerID uuid.UUID) (*domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	if !ok || s.PartnerID != partnerID {
		return nil, nil
	}
	out := cloneSubscription(s)
	return &out, nil
}

func (r *SubscriptionRepo) ListByPartner(_ context.Context, partnerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	return r.filter(func(s *domain.WebhookSubscription) bool { return s.PartnerID == partnerID }), nil
}

func (r *SubscriptionRepo) Update(_ context.Context, id, partnerID uuid.UUID, patch ports.SubscriptionPatch) (*domain.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok || s.PartnerID != partnerID {
		return nil, nil
	}

	if patch.URL != nil {
		s.URL = *patch.URL
	}
	if patch.Events != nil {
		s.Events = slices.Clone(patch.Events)
	}
	if patch.IsActive != nil {
		s.IsActive = *patch.IsActive
	}
	if patch.LocationIDSet {
		s.LocationID = cloneUUID(patch.LocationID)
	}
	if patch.HeadersSet {
		s.Headers = maps.Clone(patch.Headers)
	}
	if patch.SecretEnc != nil {
		s.SecretEnc = *patch.SecretEnc
	}
	if patch.ResetFailures {
		s.FailureCount = 0
	}
	s.UpdatedAt = patch.UpdatedAt

	r.subs[id] = s
	out := cloneSubscription(s)
	return &out, nil
}

func (r *SubscriptionRepo) Delete(_ context.Context, id, partnerID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok || s.PartnerID != partnerID {
		return false, nil
	}
	delete(r.subs, id)
	return true, nil
}

func (r *SubscriptionRepo) ListActiveForEvent(_ context.Context, partnerID uuid.UUID, eventType domain.EventType, locationID *uuid.UUID) ([]domain.WebhookSubscription, error) {
	event := domain.Event{PartnerID: partnerID, Type: eventType, LocationID: locationID}
	return r.filter(func(s *domain.WebhookSubscription) bool { return s.Matches(event) }), nil
}

func (r *SubscriptionRepo) RecordSuccess(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil
	}
	s.LastTriggeredAt = &at
	s.LastSuccessAt = &at
	r.subs[id] = s
	return nil
}

func (r *SubscriptionRepo) RecordFailure(_ context.Context, id uuid.UUID, at time.Time, disableAfter int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil
	}
	s.FailureCount++
	s.LastTriggeredAt = &at
	s.LastFailureAt = &at
	if disableAfter > 0 && s.FailureCount >= disableAfter {
		s.IsActive = false
	}
	r.subs[id] = s
	return nil
}

func (r *SubscriptionRepo) filter(keep func(*domain.WebhookSubscription) bool) []domain.WebhookSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.WebhookSubscription{}
	for _, s := range r.subs {
		if keep(&s) {
			out = append(out, cloneSubscription(s))
		}
	}
	slices.SortFunc(out, func(a, b domain.WebhookSubscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

func cloneSubscription(s domain.WebhookSubscription) domain.WebhookSubscription {
	s.Events = slices.Clone(s.Events)
	s.Headers = maps.Clone(s.Headers)
	s.LocationID = cloneUUID(s.LocationID)
	s.LastTriggeredAt = cloneTime(s.LastTriggeredAt)
	s.LastSuccessAt = cloneTime(s.LastSuccessAt)
	s.LastFailureAt = cloneTime(s.LastFailureAt)
	return s
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// DeliveryLogRepo implements ports.DeliveryLogRepository.
type DeliveryLogRepo struct {
	mu      sync.RWMutex
	entries []domain.DeliveryLogEntry
}

func NewDeliveryLogRepo() *DeliveryLogRepo {
	return &DeliveryLogRepo{}
}

func (r *DeliveryLogRepo) Append(_ context.Context, e *domain.DeliveryLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

// ListRecent walks the log backwards, so ties on created_at resolve to
// insertion order.
func (r *DeliveryLogRepo) ListRecent(_ context.Context, subscriptionID uuid.UUID, limit int) ([]domain.DeliveryLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.DeliveryLogEntry{}
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].SubscriptionID == subscriptionID {
			out = append(out, r.entries[i])
		}
	}
	slices.SortStableFunc(out, func(a, b domain.DeliveryLogEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	mu   sync.RWMutex
	logs []domain.AuditLog
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func (r *AuditRepo) Create(_ context.Context, log *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *log)
	return nil
}

// Entries returns a copy of every stored audit row.
func (r *AuditRepo) Entries() []domain.AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.logs)
}
