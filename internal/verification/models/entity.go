package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entity is a snapshot of a saved business record. The set of implementations is
// closed: only the types in this file satisfy it.
type Entity interface {
	EntityType() EntityType
	PrimaryKey() int64
	sealed()
}

// FundingTransaction is the fingerprinted projection of a donor payment.
type FundingTransaction struct {
	ID        int64 `validate:"required,gt=0"`
	Amount    decimal.Decimal
	DonorID   int64 `validate:"required,gt=0"`
	ProjectID int64 `validate:"required,gt=0"`
	Date      time.Time
}

func (t FundingTransaction) EntityType() EntityType { return EntityTypeTransaction }
func (t FundingTransaction) PrimaryKey() int64      { return t.ID }
func (FundingTransaction) sealed()                  {}

// Report is the fingerprinted projection of a field or progress report.
type Report struct {
	ID          int64 `validate:"required,gt=0"`
	Title       string
	ProjectID   int64 `validate:"required,gt=0"`
	SubmitterID int64 `validate:"required,gt=0"`
	ReportType  string
}

func (r Report) EntityType() EntityType { return EntityTypeReport }
func (r Report) PrimaryKey() int64      { return r.ID }
func (Report) sealed()                  {}

// AidDistribution is the fingerprinted projection of a field distribution.
type AidDistribution struct {
	ID                 int64 `validate:"required,gt=0"`
	AidType            string
	Quantity           decimal.Decimal
	BeneficiariesCount int64
	ProjectID          int64 `validate:"required,gt=0"`
}

func (d AidDistribution) EntityType() EntityType { return EntityTypeDistribution }
func (d AidDistribution) PrimaryKey() int64      { return d.ID }
func (AidDistribution) sealed()                  {}

// Project carries only its id; no project-specific fields are fingerprinted.
type Project struct {
	ID int64 `validate:"required,gt=0"`
}

func (p Project) EntityType() EntityType { return EntityTypeProject }
func (p Project) PrimaryKey() int64      { return p.ID }
func (Project) sealed()                  {}

// Other covers any record type without a dedicated projection. TypeName is used
// as the fingerprint type tag.
type Other struct {
	TypeName string `validate:"required"`
	ID       int64  `validate:"required,gt=0"`
}

func (o Other) EntityType() EntityType { return EntityTypeOther }
func (o Other) PrimaryKey() int64      { return o.ID }
func (Other) sealed()                  {}
