// Package events publishes verification lifecycle events for downstream
// audit consumers. Publishing is best-effort: the ledger is the source of
// truth.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names the lifecycle step.
type Type string

const (
	TypeRecorded  Type = "verification.recorded"
	TypeConfirmed Type = "verification.confirmed"
)

// Event is the wire payload, serialized as JSON and keyed by hash.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	Hash       string    `json:"hash"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   int64     `json:"entity_id,omitempty"`
	Reference  string    `json:"reference,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Confirmed  bool      `json:"confirmed"`
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
