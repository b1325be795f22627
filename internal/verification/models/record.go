package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType tags the business record a verification belongs to.
type EntityType string

const (
	EntityTypeTransaction  EntityType = "transaction"
	EntityTypeReport       EntityType = "report"
	EntityTypeDistribution EntityType = "distribution"
	EntityTypeProject      EntityType = "project"
	EntityTypeOther        EntityType = "other"
)

// ParseEntityType validates a raw entity type string.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	switch t {
	case EntityTypeTransaction, EntityTypeReport, EntityTypeDistribution, EntityTypeProject, EntityTypeOther:
		return t, nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// AnchorMode records how an anchor reference was obtained.
type AnchorMode string

const (
	AnchorModeNone      AnchorMode = ""
	AnchorModeLive      AnchorMode = "live"
	AnchorModeSimulated AnchorMode = "simulated"
)

// VerificationRecord is one fingerprint event for a business record. Records are
// appended, never updated in place, except for the single IsConfirmed flip.
type VerificationRecord struct {
	ID              uuid.UUID
	EntityType      EntityType
	EntityID        int64
	HashValue       string
	AnchorReference string
	AnchorMode      AnchorMode
	IsConfirmed     bool
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
	// Seq is the ledger append position. It is filled in by the store on read.
	Seq int64
}

// HasReference reports whether submission produced a reference.
func (r *VerificationRecord) HasReference() bool {
	return r.AnchorReference != ""
}

// Confirm flips the record to confirmed. It returns false if it already was.
func (r *VerificationRecord) Confirm(at time.Time) bool {
	if r.IsConfirmed {
		return false
	}
	r.IsConfirmed = true
	r.ConfirmedAt = &at
	return true
}

// ListFilter narrows ledger queries. Nil fields do not filter.
type ListFilter struct {
	EntityType *EntityType
	EntityID   *int64
	Confirmed  *bool
	Limit      int
}

// Matches reports whether r satisfies the filter, ignoring Limit.
func (f ListFilter) Matches(r *VerificationRecord) bool {
	if f.EntityType != nil && r.EntityType != *f.EntityType {
		return false
	}
	if f.EntityID != nil && r.EntityID != *f.EntityID {
		return false
	}
	if f.Confirmed != nil && r.IsConfirmed != *f.Confirmed {
		return false
	}
	return true
}

// Stats aggregates ledger confirmation state. Rate is a percentage.
type Stats struct {
	Total     int64
	Confirmed int64
	Pending   int64
	Rate      float64
}

// NewStats derives pending and rate from the two counts.
func NewStats(total, confirmed int64) Stats {
	s := Stats{Total: total, Confirmed: confirmed, Pending: total - confirmed}
	if total > 0 {
		s.Rate = float64(confirmed) / float64(total) * 100
	}
	return s
}

// HashStatus is the answer to a per-hash status query.
type HashStatus struct {
	Hash      string
	Reference string
	Mode      AnchorMode
	Confirmed bool
	CheckedAt time.Time
}
