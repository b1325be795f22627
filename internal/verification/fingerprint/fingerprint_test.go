package fingerprint

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"aidtrace/internal/verification/models"
	"aidtrace/pkg/requestcontext"
)

// =============================================================================
// Fingerprint Test Suite
// =============================================================================
// Justification for unit tests: digests must be reproducible byte-for-byte, so
// canonical ordering and exact decimal rendering are asserted directly.

type FingerprintSuite struct {
	suite.Suite
	builder *Builder
	t1      time.Time
}

func TestFingerprintSuite(t *testing.T) {
	suite.Run(t, new(FingerprintSuite))
}

func (s *FingerprintSuite) SetupTest() {
	s.builder = NewBuilder()
	s.t1 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func sampleTransaction() models.FundingTransaction {
	return models.FundingTransaction{
		ID:        42,
		Amount:    decimal.RequireFromString("150.00"),
		DonorID:   7,
		ProjectID: 3,
		Date:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// Canonical Form Tests
// =============================================================================

func (s *FingerprintSuite) TestCompute() {
	s.Run("known digest", func() {
		hash, err := Compute(Fields{"b": "x", "a": 1})
		s.Require().NoError(err)
		s.Equal("ecf9e98ec0641e23113ff3ce8bdc78d0ddd249886517fd4a7f68cc83d4e65667", hash)
	})

	s.Run("insertion order does not matter", func() {
		first := Fields{}
		first["amount"] = "10.00"
		first["donor_id"] = int64(1)
		first["id"] = int64(5)

		second := Fields{}
		second["id"] = int64(5)
		second["amount"] = "10.00"
		second["donor_id"] = int64(1)

		h1, err := Compute(first)
		s.Require().NoError(err)
		h2, err := Compute(second)
		s.Require().NoError(err)
		s.Equal(h1, h2)
	})

	s.Run("html characters are not escaped", func() {
		out, err := Canonicalize(Fields{"title": "Food & Water <North>"})
		s.Require().NoError(err)
		s.Equal(`{"title":"Food & Water <North>"}`, string(out))
	})
}

func (s *FingerprintSuite) TestBuildTransaction() {
	s.Run("canonical serialization and digest", func() {
		fp, err := s.builder.BuildAt(sampleTransaction(), s.t1)
		s.Require().NoError(err)

		canonical, err := Canonicalize(fp.Fields)
		s.Require().NoError(err)
		s.Equal(`{"amount":"150.00","date":"2024-01-01T00:00:00Z","donor_id":7,"id":42,"project_id":3,"timestamp":"2024-03-01T12:00:00Z","type":"FundingTransaction"}`, string(canonical))
		s.Equal("57452e1a683b57f1c26fa21210d89ff5b62747a435eb219e14f15427e6450581", fp.Hash)
		s.Equal(models.EntityTypeTransaction, fp.EntityType)
		s.Equal(int64(42), fp.EntityID)
		s.Equal(s.t1, fp.SnapshotAt)
	})

	s.Run("same snapshot is deterministic", func() {
		a, err := s.builder.BuildAt(sampleTransaction(), s.t1)
		s.Require().NoError(err)
		b, err := s.builder.BuildAt(sampleTransaction(), s.t1)
		s.Require().NoError(err)
		s.Equal(a.Hash, b.Hash)
	})

	s.Run("different snapshot times give different valid hashes", func() {
		a, err := s.builder.BuildAt(sampleTransaction(), s.t1)
		s.Require().NoError(err)
		b, err := s.builder.BuildAt(sampleTransaction(), s.t1.Add(time.Second))
		s.Require().NoError(err)

		s.NotEqual(a.Hash, b.Hash)
		s.True(IsValidHash(a.Hash))
		s.True(IsValidHash(b.Hash))
	})

	s.Run("changing any single field changes the hash", func() {
		base, err := s.builder.BuildAt(sampleTransaction(), s.t1)
		s.Require().NoError(err)

		mutations := map[string]func(*models.FundingTransaction){
			"id":      func(t *models.FundingTransaction) { t.ID = 43 },
			"amount":  func(t *models.FundingTransaction) { t.Amount = decimal.RequireFromString("150.01") },
			"donor":   func(t *models.FundingTransaction) { t.DonorID = 8 },
			"project": func(t *models.FundingTransaction) { t.ProjectID = 4 },
			"date":    func(t *models.FundingTransaction) { t.Date = t.Date.Add(time.Hour) },
		}
		for name, mutate := range mutations {
			tx := sampleTransaction()
			mutate(&tx)
			fp, err := s.builder.BuildAt(tx, s.t1)
			s.Require().NoError(err, name)
			s.NotEqual(base.Hash, fp.Hash, "mutating %s must change the hash", name)
		}
	})

	s.Run("amounts keep exact precision", func() {
		tx := sampleTransaction()
		tx.Amount = decimal.RequireFromString("150")
		fp, err := s.builder.BuildAt(tx, s.t1)
		s.Require().NoError(err)
		s.Equal("150.00", fp.Fields["amount"])

		tx.Amount = decimal.RequireFromString("0.125")
		fp, err = s.builder.BuildAt(tx, s.t1)
		s.Require().NoError(err)
		s.Equal("0.125", fp.Fields["amount"])
	})

	s.Run("missing date serializes as null", func() {
		tx := sampleTransaction()
		tx.Date = time.Time{}
		fp, err := s.builder.BuildAt(tx, s.t1)
		s.Require().NoError(err)
		s.Nil(fp.Fields["date"])
	})
}

func (s *FingerprintSuite) TestBuildFieldSets() {
	s.Run("report", func() {
		fp, err := s.builder.BuildAt(models.Report{
			ID: 5, Title: "Q1 progress", ProjectID: 3, SubmitterID: 11, ReportType: "progress",
		}, s.t1)
		s.Require().NoError(err)
		s.Equal("Report", fp.TypeTag)
		s.ElementsMatch([]string{"id", "type", "timestamp", "title", "project_id", "submitted_by", "report_type"}, keys(fp.Fields))
	})

	s.Run("distribution", func() {
		fp, err := s.builder.BuildAt(models.AidDistribution{
			ID: 6, AidType: "food", Quantity: decimal.RequireFromString("12.5"), BeneficiariesCount: 40, ProjectID: 3,
		}, s.t1)
		s.Require().NoError(err)
		s.Equal("AidDistribution", fp.TypeTag)
		s.Equal("12.50", fp.Fields["quantity"])
		s.ElementsMatch([]string{"id", "type", "timestamp", "aid_type", "quantity", "beneficiaries_count", "project_id"}, keys(fp.Fields))
	})

	s.Run("project carries only the minimal fields", func() {
		fp, err := s.builder.BuildAt(models.Project{ID: 3}, s.t1)
		s.Require().NoError(err)
		s.ElementsMatch([]string{"id", "type", "timestamp"}, keys(fp.Fields))
	})

	s.Run("other uses its type name as tag", func() {
		fp, err := s.builder.BuildAt(models.Other{TypeName: "Organisation", ID: 2}, s.t1)
		s.Require().NoError(err)
		s.Equal("Organisation", fp.TypeTag)
		s.Equal(models.EntityTypeOther, fp.EntityType)
	})
}

func (s *FingerprintSuite) TestBuildRejectsUnidentifiableRecords() {
	cases := map[string]models.Entity{
		"nil entity":               nil,
		"transaction without id":   models.FundingTransaction{DonorID: 1, ProjectID: 1},
		"report without project":   models.Report{ID: 5, SubmitterID: 2, Title: "t"},
		"report without submitter": models.Report{ID: 5, ProjectID: 2},
		"project without id":       models.Project{},
		"other without type name":  models.Other{ID: 1},
	}
	for name, entity := range cases {
		s.Run(name, func() {
			_, err := s.builder.BuildAt(entity, s.t1)
			s.ErrorIs(err, ErrNoIdentifiableRecord)
		})
	}
}

func (s *FingerprintSuite) TestBuildUsesRequestTime() {
	ctx := requestcontext.WithTime(context.Background(), s.t1)
	fp, err := s.builder.Build(ctx, sampleTransaction())
	s.Require().NoError(err)
	s.Equal(s.t1, fp.SnapshotAt)

	again, err := s.builder.BuildAt(sampleTransaction(), fp.SnapshotAt)
	s.Require().NoError(err)
	s.Equal(fp.Hash, again.Hash, "stored snapshot time reproduces the hash")
}

func (s *FingerprintSuite) TestIsValidHash() {
	s.True(IsValidHash("57452e1a683b57f1c26fa21210d89ff5b62747a435eb219e14f15427e6450581"))
	s.False(IsValidHash("57452E1A683B57F1C26FA21210D89FF5B62747A435EB219E14F15427E6450581"))
	s.False(IsValidHash("abc"))
	s.False(IsValidHash("zz452e1a683b57f1c26fa21210d89ff5b62747a435eb219e14f15427e6450581"))
}

func keys(f Fields) []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	return out
}
