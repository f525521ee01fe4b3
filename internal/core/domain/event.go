package domain

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// EventType is a webhook event tag. The set of tags is closed and case-sensitive.
type EventType string

const (
	EventPolicyCreated    EventType = "policy.created"
	EventPolicyUpdated    EventType = "policy.updated"
	EventPolicyCancelled  EventType = "policy.cancelled"
	EventCommissionEarned EventType = "commission.earned"
	EventCommissionPaid   EventType = "commission.paid"
	EventClaimFiled       EventType = "claim.filed"
	EventClaimUpdated     EventType = "claim.updated"
)

var allEventTypes = []EventType{
	EventPolicyCreated,
	EventPolicyUpdated,
	EventPolicyCancelled,
	EventCommissionEarned,
	EventCommissionPaid,
	EventClaimFiled,
	EventClaimUpdated,
}

// AllEventTypes returns every supported event type in declaration order.
func AllEventTypes() []EventType {
	return slices.Clone(allEventTypes)
}

// EventTypeNames returns the supported event tags as strings.
func EventTypeNames() []string {
	names := make([]string, len(allEventTypes))
	for i, e := range allEventTypes {
		names[i] = string(e)
	}
	return names
}

// IsValid reports whether e is part of the enumeration.
func (e EventType) IsValid() bool {
	switch e {
	case EventPolicyCreated, EventPolicyUpdated, EventPolicyCancelled,
		EventCommissionEarned, EventCommissionPaid,
		EventClaimFiled, EventClaimUpdated:
		return true
	}
	return false
}

// ParseEventTypes converts raw tags into event types, preserving the first
// occurrence order and dropping duplicates. Tags outside the enumeration are
// returned in invalid.
func ParseEventTypes(raw []string) (events []EventType, invalid []string) {
	seen := make(map[EventType]struct{}, len(raw))
	for _, tag := range raw {
		e := EventType(tag)
		if !e.IsValid() {
			invalid = append(invalid, tag)
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		events = append(events, e)
	}
	return events, invalid
}

// Event is a domain event fired elsewhere in the platform. Its JSON form is
// the envelope delivered to webhook subscribers.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       EventType       `json:"type"`
	PartnerID  uuid.UUID       `json:"partner_id"`
	LocationID *uuid.UUID      `json:"location_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Data       json.RawMessage `json:"data"`
}
