package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"aidtrace/internal/verification/models"
	"aidtrace/pkg/platform/sentinel"
)

type memoryRow struct {
	seq    int64
	record models.VerificationRecord
}

// InMemory is a mutex-protected ledger for tests and single-process runs.
type InMemory struct {
	mu   sync.RWMutex
	rows []memoryRow
	ids  map[uuid.UUID]struct{}
	seq  int64
}

func NewInMemory() *InMemory {
	return &InMemory{ids: make(map[uuid.UUID]struct{})}
}

// Append stores a copy of rec, assigning an ID when it has none.
func (s *InMemory) Append(_ context.Context, rec *models.VerificationRecord) error {
	if rec == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, exists := s.ids[rec.ID]; exists {
		return sentinel.ErrConflict
	}
	s.seq++
	rec.Seq = s.seq
	s.ids[rec.ID] = struct{}{}
	s.rows = append(s.rows, memoryRow{seq: s.seq, record: copyRecord(rec)})
	return nil
}

// MarkConfirmed flips every unconfirmed record with hash and returns how many
// changed.
func (s *InMemory) MarkConfirmed(_ context.Context, hash string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.rows {
		if s.rows[i].record.HashValue != hash {
			continue
		}
		if s.rows[i].record.Confirm(at) {
			n++
		}
	}
	return n, nil
}

// FindByHash returns the records for hash, newest first.
func (s *InMemory) FindByHash(_ context.Context, hash string) ([]*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.VerificationRecord
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].record.HashValue == hash {
			rec := copyRecord(&s.rows[i].record)
			out = append(out, &rec)
		}
	}
	if len(out) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return out, nil
}

// List returns matching records, newest first.
func (s *InMemory) List(_ context.Context, filter models.ListFilter) ([]*models.VerificationRecord, error) {
	s.mu.RLock()
	rows := make([]memoryRow, 0, len(s.rows))
	for _, row := range s.rows {
		if filter.Matches(&row.record) {
			rows = append(rows, memoryRow{seq: row.seq, record: copyRecord(&row.record)})
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	out := make([]*models.VerificationRecord, len(rows))
	for i := range rows {
		out[i] = &rows[i].record
	}
	return out, nil
}

// ListPending returns up to limit unconfirmed records that carry a reference
// and were appended after afterSeq, oldest first. A limit <= 0 means no limit.
func (s *InMemory) ListPending(_ context.Context, afterSeq int64, limit int) ([]*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.VerificationRecord
	for i := range s.rows {
		row := &s.rows[i]
		if row.seq <= afterSeq || row.record.IsConfirmed || !row.record.HasReference() {
			continue
		}
		rec := copyRecord(&s.rows[i].record)
		out = append(out, &rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) Stats(_ context.Context) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var confirmed int64
	for i := range s.rows {
		if s.rows[i].record.IsConfirmed {
			confirmed++
		}
	}
	return models.NewStats(int64(len(s.rows)), confirmed), nil
}

func copyRecord(rec *models.VerificationRecord) models.VerificationRecord {
	cp := *rec
	if rec.ConfirmedAt != nil {
		at := *rec.ConfirmedAt
		cp.ConfirmedAt = &at
	}
	return cp
}
