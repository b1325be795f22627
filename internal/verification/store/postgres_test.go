package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/suite"

	"aidtrace/internal/verification/models"
	"aidtrace/pkg/platform/sentinel"
)

// =============================================================================
// PostgreSQL Ledger Test Suite (sqlmock)
// =============================================================================
// Justification for unit tests: query shape (filters, ordering, the guarded
// confirmation update) and error translation are checked without a database.
// Real round-trips live in postgres_integration_test.go.

type PostgresSuite struct {
	suite.Suite
	ctx   context.Context
	db    *sql.DB
	mock  sqlmock.Sqlmock
	store *Postgres
	now   time.Time
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupTest() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	s.ctx = context.Background()
	s.db = db
	s.mock = mock
	s.store = NewPostgres(db)
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.db.Close()
}

func (s *PostgresSuite) recordColumns() []string {
	return []string{"id", "entity_type", "entity_id", "hash_value", "anchor_reference", "anchor_mode", "is_confirmed", "created_at", "confirmed_at", "seq"}
}

func (s *PostgresSuite) TestAppend() {
	s.Run("inserts with null reference when absent", func() {
		rec := &models.VerificationRecord{
			EntityType: models.EntityTypeTransaction,
			EntityID:   42,
			HashValue:  "abc",
			CreatedAt:  s.now,
		}
		s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO verification_records")).
			WithArgs(sqlmock.AnyArg(), "transaction", int64(42), "abc", nil, "", false, s.now, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))

		s.Require().NoError(s.store.Append(s.ctx, rec))
		s.NotEqual(uuid.Nil, rec.ID)
	})

	s.Run("unique violation maps to conflict", func() {
		s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO verification_records")).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := s.store.Append(s.ctx, &models.VerificationRecord{ID: uuid.New(), HashValue: "abc", CreatedAt: s.now})
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("other failures are wrapped", func() {
		boom := errors.New("connection reset")
		s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO verification_records")).WillReturnError(boom)

		err := s.store.Append(s.ctx, &models.VerificationRecord{HashValue: "abc", CreatedAt: s.now})
		s.ErrorIs(err, boom)
		s.NotErrorIs(err, sentinel.ErrConflict)
	})
}

func (s *PostgresSuite) TestMarkConfirmedOnlyFlipsUnconfirmedRows() {
	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE verification_records")+`.*WHERE hash_value = \$1 AND NOT is_confirmed`).
		WithArgs("abc", s.now).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.store.MarkConfirmed(s.ctx, "abc", s.now)
	s.Require().NoError(err)
	s.Equal(int64(2), n)
}

func (s *PostgresSuite) TestFindByHash() {
	s.Run("scans rows newest first", func() {
		id := uuid.New()
		confirmedAt := s.now.Add(time.Minute)
		rows := sqlmock.NewRows(s.recordColumns()).
			AddRow(id.String(), "report", int64(5), "abc", "0xdead", "live", true, s.now, confirmedAt, int64(2)).
			AddRow(uuid.NewString(), "report", int64(5), "abc", nil, "", false, s.now.Add(-time.Hour), nil, int64(1))
		s.mock.ExpectQuery(`FROM verification_records WHERE hash_value = \$1 ORDER BY seq DESC`).
			WithArgs("abc").
			WillReturnRows(rows)

		found, err := s.store.FindByHash(s.ctx, "abc")
		s.Require().NoError(err)
		s.Require().Len(found, 2)
		s.Equal(id, found[0].ID)
		s.Equal(models.EntityTypeReport, found[0].EntityType)
		s.Equal("0xdead", found[0].AnchorReference)
		s.Equal(models.AnchorModeLive, found[0].AnchorMode)
		s.Require().NotNil(found[0].ConfirmedAt)
		s.Equal(confirmedAt, *found[0].ConfirmedAt)
		s.False(found[1].HasReference())
		s.Nil(found[1].ConfirmedAt)
	})

	s.Run("no rows is not found", func() {
		s.mock.ExpectQuery(`FROM verification_records WHERE hash_value`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(s.recordColumns()))

		_, err := s.store.FindByHash(s.ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresSuite) TestListBuildsFilters() {
	reportType := models.EntityTypeReport
	entityID := int64(7)
	confirmed := false

	s.mock.ExpectQuery(regexp.QuoteMeta(
		`FROM verification_records WHERE entity_type = $1 AND entity_id = $2 AND is_confirmed = $3 ORDER BY seq DESC LIMIT $4`)).
		WithArgs("report", int64(7), false, 20).
		WillReturnRows(sqlmock.NewRows(s.recordColumns()).
			AddRow(uuid.NewString(), "report", int64(7), "abc", "sim_abc_1", "simulated", false, s.now, nil, int64(9)))

	list, err := s.store.List(s.ctx, models.ListFilter{
		EntityType: &reportType,
		EntityID:   &entityID,
		Confirmed:  &confirmed,
		Limit:      20,
	})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(models.AnchorModeSimulated, list[0].AnchorMode)
}

func (s *PostgresSuite) TestListWithoutFilters() {
	s.mock.ExpectQuery(regexp.QuoteMeta(`FROM verification_records ORDER BY seq DESC`)).
		WillReturnRows(sqlmock.NewRows(s.recordColumns()))

	list, err := s.store.List(s.ctx, models.ListFilter{})
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *PostgresSuite) TestListPending() {
	s.Run("resumes after the cursor with a limit", func() {
		s.mock.ExpectQuery(regexp.QuoteMeta(`WHERE NOT is_confirmed AND anchor_reference IS NOT NULL AND seq > $1`)+
			`\s+ORDER BY seq ASC LIMIT \$2`).
			WithArgs(int64(3), 50).
			WillReturnRows(sqlmock.NewRows(s.recordColumns()).
				AddRow(uuid.NewString(), "transaction", int64(1), "abc", "0x1", "live", false, s.now, nil, int64(4)))

		pending, err := s.store.ListPending(s.ctx, 3, 50)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal(int64(4), pending[0].Seq)
	})

	s.Run("non-positive limit reads every pending row", func() {
		s.mock.ExpectQuery(`seq > \$1\s+ORDER BY seq ASC$`).
			WithArgs(int64(0)).
			WillReturnRows(sqlmock.NewRows(s.recordColumns()).
				AddRow(uuid.NewString(), "transaction", int64(1), "abc", "0x1", "live", false, s.now, nil, int64(1)).
				AddRow(uuid.NewString(), "transaction", int64(2), "def", "0x2", "live", false, s.now, nil, int64(2)))

		pending, err := s.store.ListPending(s.ctx, 0, 0)
		s.Require().NoError(err)
		s.Len(pending, 2)
	})
}

func (s *PostgresSuite) TestStats() {
	s.mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_confirmed)`)).
		WillReturnRows(sqlmock.NewRows([]string{"total", "confirmed"}).AddRow(int64(4), int64(1)))

	stats, err := s.store.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.Stats{Total: 4, Confirmed: 1, Pending: 3, Rate: 25}, stats)
}
