// Package fingerprint derives the verification hash of a business record.
//
// A fingerprint is a SHA-256 digest over a canonical JSON serialization of a
// projection of the record plus the snapshot time at which it was taken. Object
// keys are sorted, so the digest does not depend on field insertion order.
//
// Because the snapshot time is part of the digest, a fingerprint proves that the
// record existed in this form at that time; it cannot be recomputed from record
// content alone. BuildAt recomputes it given the stored snapshot time.
package fingerprint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"aidtrace/internal/verification/models"
	"aidtrace/pkg/requestcontext"
)

// ErrNoIdentifiableRecord means the snapshot lacks a primary key or a required
// reference, so no hash can be produced and anchoring must be skipped.
var ErrNoIdentifiableRecord = errors.New("no identifiable record")

// HashLength is the length of a hex-encoded fingerprint.
const HashLength = sha256.Size * 2

// Fields is the projected, canonicalized field set of a record.
type Fields map[string]any

// Fingerprint is the result of hashing one record snapshot.
type Fingerprint struct {
	Hash       string
	EntityType models.EntityType
	EntityID   int64
	TypeTag    string
	SnapshotAt time.Time
	Fields     Fields
}

// Canonicalize serializes fields as compact JSON with lexicographically sorted keys.
func Canonicalize(fields Fields) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(fields)); err != nil {
		return nil, fmt.Errorf("canonicalize fields: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Compute returns the lowercase hex SHA-256 of the canonical form of fields.
func Compute(fields Fields) (string, error) {
	canonical, err := Canonicalize(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// IsValidHash reports whether s looks like a fingerprint: 64 lowercase hex chars.
func IsValidHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Builder projects entity snapshots and hashes them.
type Builder struct {
	validate *validator.Validate
}

func NewBuilder() *Builder {
	return &Builder{validate: validator.New()}
}

// Build fingerprints e with the snapshot time taken from the request context.
func (b *Builder) Build(ctx context.Context, e models.Entity) (Fingerprint, error) {
	return b.BuildAt(e, requestcontext.Now(ctx))
}

// BuildAt fingerprints e as of snapshotAt.
func (b *Builder) BuildAt(e models.Entity, snapshotAt time.Time) (Fingerprint, error) {
	if e == nil {
		return Fingerprint{}, ErrNoIdentifiableRecord
	}
	if err := b.validate.Struct(e); err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %s %v", ErrNoIdentifiableRecord, e.EntityType(), err)
	}

	tag, fields := project(e)
	snapshotAt = snapshotAt.UTC()
	fields["id"] = e.PrimaryKey()
	fields["type"] = tag
	fields["timestamp"] = snapshotAt.Format(time.RFC3339Nano)

	hash, err := Compute(fields)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Hash:       hash,
		EntityType: e.EntityType(),
		EntityID:   e.PrimaryKey(),
		TypeTag:    tag,
		SnapshotAt: snapshotAt,
		Fields:     fields,
	}, nil
}

// project maps every entity variant to its type tag and type-specific fields.
func project(e models.Entity) (string, Fields) {
	switch v := e.(type) {
	case models.FundingTransaction:
		return "FundingTransaction", Fields{
			"amount":     canonicalDecimal(v.Amount),
			"donor_id":   v.DonorID,
			"project_id": v.ProjectID,
			"date":       canonicalTime(v.Date),
		}
	case models.Report:
		return "Report", Fields{
			"title":        v.Title,
			"project_id":   v.ProjectID,
			"submitted_by": v.SubmitterID,
			"report_type":  v.ReportType,
		}
	case models.AidDistribution:
		return "AidDistribution", Fields{
			"aid_type":            v.AidType,
			"quantity":            canonicalDecimal(v.Quantity),
			"beneficiaries_count": v.BeneficiariesCount,
			"project_id":          v.ProjectID,
		}
	case models.Project:
		return "Project", Fields{}
	case models.Other:
		return v.TypeName, Fields{}
	}
	// unreachable: Entity is sealed
	return string(e.EntityType()), Fields{}
}

// canonicalDecimal renders d exactly, with at least two fractional digits.
func canonicalDecimal(d decimal.Decimal) string {
	places := int32(2)
	if exp := -d.Exponent(); exp > places {
		places = exp
	}
	return d.StringFixed(places)
}

func canonicalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
