// Package service coordinates fingerprinting, anchoring and the verification
// ledger. Entity writes call OnEntityCreated; status endpoints call Status and
// BatchStatus.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aidtrace/internal/verification/anchor"
	"aidtrace/internal/verification/cache"
	"aidtrace/internal/verification/events"
	"aidtrace/internal/verification/fingerprint"
	"aidtrace/internal/verification/metrics"
	"aidtrace/internal/verification/models"
	dErrors "aidtrace/pkg/domain-errors"
	"aidtrace/pkg/platform/sentinel"
	"aidtrace/pkg/requestcontext"
)

type Ledger interface {
	Append(ctx context.Context, rec *models.VerificationRecord) error
	MarkConfirmed(ctx context.Context, hash string, at time.Time) (int64, error)
	FindByHash(ctx context.Context, hash string) ([]*models.VerificationRecord, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.VerificationRecord, error)
	ListPending(ctx context.Context, afterSeq int64, limit int) ([]*models.VerificationRecord, error)
	Stats(ctx context.Context) (models.Stats, error)
}

type Anchor interface {
	Live() bool
	Submit(ctx context.Context, hash string) anchor.Outcome
	Confirm(ctx context.Context, hash, reference string) bool
	BatchConfirm(ctx context.Context, hashes []string) map[string]bool
	HashTimestamp(ctx context.Context, hash string) (time.Time, error)
}

type ConfirmationCache interface {
	IsConfirmed(ctx context.Context, hash string) (bool, error)
	MarkConfirmed(ctx context.Context, hash, reference string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

const (
	defaultListLimit    = 100
	maxListLimit        = 1000
	defaultEventTimeout = 3 * time.Second
)

// Service is the verification coordinator.
type Service struct {
	ledger  Ledger
	anchor  Anchor
	builder *fingerprint.Builder
	cache   ConfirmationCache
	events  EventPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	eventTimeout time.Duration

	// pendingCursor is the ledger Seq where the next refresh pass resumes.
	cursorMu      sync.Mutex
	pendingCursor int64
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCache enables the confirmation cache.
func WithCache(c ConfirmationCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithEventTimeout bounds each event publish.
func WithEventTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.eventTimeout = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New constructs a Service.
func New(ledger Ledger, anchorClient Anchor, opts ...Option) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("verification ledger is required")
	}
	if anchorClient == nil {
		return nil, errors.New("anchor client is required")
	}
	s := &Service{
		ledger:  ledger,
		anchor:  anchorClient,
		builder: fingerprint.NewBuilder(),
		cache:   cache.Noop{},
		events:  events.Noop{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  otel.Tracer("aidtrace/verification"),

		eventTimeout: defaultEventTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// VerifyEntity fingerprints entity, submits the hash and appends a record.
// It returns fingerprint.ErrNoIdentifiableRecord when the entity cannot be
// projected; nothing is written in that case. Anchor problems never surface.
func (s *Service) VerifyEntity(ctx context.Context, entity models.Entity) (*models.VerificationRecord, error) {
	ctx, span := s.tracer.Start(ctx, "verification.VerifyEntity")
	defer span.End()

	fp, err := s.builder.Build(ctx, entity)
	if err != nil {
		s.metrics.IncFingerprintSkipped()
		span.SetAttributes(attribute.Bool("verification.skipped", true))
		return nil, err
	}
	s.metrics.IncFingerprintComputed()
	span.SetAttributes(
		attribute.String("verification.entity_type", string(fp.EntityType)),
		attribute.Int64("verification.entity_id", fp.EntityID),
		attribute.String("verification.hash", fp.Hash),
	)

	outcome := s.anchor.Submit(ctx, fp.Hash)
	if outcome.Cause != nil {
		s.logger.WarnContext(ctx, "anchor submission fell back to simulated reference",
			"hash", fp.Hash,
			"error", outcome.Cause,
		)
	}
	span.SetAttributes(attribute.String("verification.anchor_mode", string(outcome.Mode)))

	rec := &models.VerificationRecord{
		ID:              uuid.New(),
		EntityType:      fp.EntityType,
		EntityID:        fp.EntityID,
		HashValue:       fp.Hash,
		AnchorReference: outcome.Reference,
		AnchorMode:      anchorMode(outcome.Mode),
		CreatedAt:       fp.SnapshotAt,
	}
	if err := s.ledger.Append(ctx, rec); err != nil {
		s.metrics.IncLedgerFailure("append")
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record verification")
	}

	s.logger.InfoContext(ctx, "verification recorded",
		"entity_type", string(rec.EntityType),
		"entity_id", rec.EntityID,
		"hash", rec.HashValue,
		"anchor_mode", string(rec.AnchorMode),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.publish(ctx, events.Event{
		Type:       events.TypeRecorded,
		Hash:       rec.HashValue,
		EntityType: string(rec.EntityType),
		EntityID:   rec.EntityID,
		Reference:  rec.AnchorReference,
		Mode:       string(rec.AnchorMode),
		OccurredAt: rec.CreatedAt,
	})
	return rec, nil
}

// OnEntityCreated is the hook for entity writes. Verification problems are
// logged and never fail the write.
func (s *Service) OnEntityCreated(ctx context.Context, entity models.Entity) *models.VerificationRecord {
	rec, err := s.VerifyEntity(ctx, entity)
	if err != nil {
		if errors.Is(err, fingerprint.ErrNoIdentifiableRecord) {
			s.logger.InfoContext(ctx, "verification skipped", "reason", err.Error())
			return nil
		}
		s.logger.ErrorContext(ctx, "verification failed", "error", err)
		return nil
	}
	return rec
}

// Status answers a per-hash query. When reference is empty it is resolved
// from the ledger. A positive answer is persisted and cached only when the
// reference is one the ledger recorded for hash.
func (s *Service) Status(ctx context.Context, hash, reference string) (*models.HashStatus, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Status")
	defer span.End()

	if hash == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "hash is required")
	}
	now := requestcontext.Now(ctx)
	status := &models.HashStatus{Hash: hash, Reference: reference, CheckedAt: now}

	records, err := s.ledger.FindByHash(ctx, hash)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncLedgerFailure("find")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification")
	}
	if status.Reference == "" {
		if rec := latestWithReference(records); rec != nil {
			status.Reference = rec.AnchorReference
		}
	}
	status.Mode = modeOfReference(status.Reference)
	if status.Reference == "" {
		return status, nil
	}

	if anyConfirmed(records) || s.cachedConfirmation(ctx, hash) {
		status.Confirmed = true
		return status, nil
	}

	status.Confirmed = s.anchor.Confirm(ctx, hash, status.Reference)
	span.SetAttributes(attribute.Bool("verification.confirmed", status.Confirmed))
	if !status.Confirmed {
		return status, nil
	}
	if !hasReference(records, status.Reference) {
		s.logger.InfoContext(ctx, "confirmation not persisted for unrecorded reference",
			"hash", hash,
			"request_id", requestcontext.RequestID(ctx),
		)
		return status, nil
	}
	s.persistConfirmation(ctx, hash, status.Reference, now)
	return status, nil
}

// BatchStatus reports confirmation for each distinct hash. Hashes whose ledger
// record is already confirmed or carries a simulated reference resolve
// locally; the rest go to the anchor in one parallel batch.
func (s *Service) BatchStatus(ctx context.Context, hashes []string) (map[string]bool, error) {
	ctx, span := s.tracer.Start(ctx, "verification.BatchStatus")
	defer span.End()
	span.SetAttributes(attribute.Int("verification.batch_size", len(hashes)))

	if len(hashes) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "hashes are required")
	}
	now := requestcontext.Now(ctx)
	results := make(map[string]bool, len(hashes))
	references := make(map[string]string, len(hashes))
	var remote []string

	for _, hash := range hashes {
		if _, seen := results[hash]; seen {
			continue
		}
		results[hash] = false
		records, err := s.ledger.FindByHash(ctx, hash)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.IncLedgerFailure("find")
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification")
		}
		if anyConfirmed(records) {
			results[hash] = true
			continue
		}
		if rec := latestWithReference(records); rec != nil {
			references[hash] = rec.AnchorReference
			if anchor.IsSimulatedReference(rec.AnchorReference) {
				results[hash] = true
				s.persistConfirmation(ctx, hash, rec.AnchorReference, now)
				continue
			}
		}
		if s.cachedConfirmation(ctx, hash) {
			results[hash] = true
			continue
		}
		remote = append(remote, hash)
	}

	if len(remote) > 0 {
		for hash, ok := range s.anchor.BatchConfirm(ctx, remote) {
			results[hash] = ok
			if ok {
				s.persistConfirmation(ctx, hash, references[hash], now)
			}
		}
	}
	return results, nil
}

// Stats returns ledger confirmation counts.
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	stats, err := s.ledger.Stats(ctx)
	if err != nil {
		s.metrics.IncLedgerFailure("stats")
		return models.Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification stats")
	}
	return stats, nil
}

// List returns records newest first. The limit defaults to 100 and is capped
// at 1000.
func (s *Service) List(ctx context.Context, filter models.ListFilter) ([]*models.VerificationRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	records, err := s.ledger.List(ctx, filter)
	if err != nil {
		s.metrics.IncLedgerFailure("list")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list verifications")
	}
	return records, nil
}

// AnchoredAt returns the time the anchor recorded hash.
func (s *Service) AnchoredAt(ctx context.Context, hash string) (time.Time, error) {
	if !fingerprint.IsValidHash(hash) {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, "hash must be 64 lowercase hex characters")
	}
	ts, err := s.anchor.HashTimestamp(ctx, hash)
	switch {
	case err == nil:
		return ts, nil
	case errors.Is(err, anchor.ErrUnavailable):
		return time.Time{}, dErrors.New(dErrors.CodeUnavailable, "anchor is not available")
	case errors.Is(err, anchor.ErrNotAnchored):
		return time.Time{}, dErrors.New(dErrors.CodeNotFound, "hash is not anchored")
	case anchor.GetCategory(err) == anchor.ErrorTimeout:
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeTimeout, "anchor timed out")
	default:
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "anchor query failed")
	}
}

// RefreshPending re-checks up to limit unconfirmed records and returns how
// many ledger rows were confirmed. Records without a reference stay pending.
// Successive passes page through the pending set by ledger Seq and wrap
// around after the newest record, so rows that never confirm do not starve
// the ones behind them.
func (s *Service) RefreshPending(ctx context.Context, limit int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "verification.RefreshPending")
	defer span.End()

	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	after := s.pendingCursor
	pending, err := s.ledger.ListPending(ctx, after, limit)
	if err != nil {
		s.metrics.IncLedgerFailure("list_pending")
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending verifications")
	}
	if limit <= 0 || len(pending) < limit {
		s.pendingCursor = 0
	} else {
		s.pendingCursor = pending[len(pending)-1].Seq
	}
	now := requestcontext.Now(ctx)

	var (
		confirmed  int
		live       []string
		references = make(map[string]string)
	)
	for _, rec := range pending {
		switch {
		case !rec.HasReference():
			continue
		case anchor.IsSimulatedReference(rec.AnchorReference):
			confirmed += s.persistConfirmation(ctx, rec.HashValue, rec.AnchorReference, now)
		case s.anchor.Live():
			if _, queued := references[rec.HashValue]; !queued {
				references[rec.HashValue] = rec.AnchorReference
				live = append(live, rec.HashValue)
			}
		}
	}
	if len(live) > 0 {
		for hash, ok := range s.anchor.BatchConfirm(ctx, live) {
			if ok {
				confirmed += s.persistConfirmation(ctx, hash, references[hash], now)
			}
		}
	}

	span.SetAttributes(
		attribute.Int64("verification.after_seq", after),
		attribute.Int("verification.pending", len(pending)),
		attribute.Int("verification.confirmed", confirmed),
	)
	if confirmed > 0 {
		s.logger.InfoContext(ctx, "pending verifications confirmed",
			"checked", len(pending),
			"confirmed", confirmed,
		)
	}
	return confirmed, nil
}

// persistConfirmation flips ledger rows and returns how many changed. Write
// failures are logged; the confirmation answer itself stays valid.
func (s *Service) persistConfirmation(ctx context.Context, hash, reference string, at time.Time) int {
	n, err := s.ledger.MarkConfirmed(ctx, hash, at)
	if err != nil {
		s.metrics.IncLedgerFailure("mark_confirmed")
		s.logger.ErrorContext(ctx, "failed to persist confirmation", "hash", hash, "error", err)
		return 0
	}
	if reference != "" {
		if err := s.cache.MarkConfirmed(ctx, hash, reference); err != nil {
			s.logger.WarnContext(ctx, "failed to cache confirmation", "hash", hash, "error", err)
		}
	}
	if n > 0 {
		s.publish(ctx, events.Event{
			Type:       events.TypeConfirmed,
			Hash:       hash,
			Reference:  reference,
			Mode:       string(modeOfReference(reference)),
			Confirmed:  true,
			OccurredAt: at,
		})
	}
	return int(n)
}

func (s *Service) cachedConfirmation(ctx context.Context, hash string) bool {
	ok, err := s.cache.IsConfirmed(ctx, hash)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "confirmation cache lookup failed", "hash", hash, "error", err)
		}
		s.metrics.IncCacheLookup(false)
		return false
	}
	s.metrics.IncCacheLookup(ok)
	return ok
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	evt.RequestID = requestcontext.RequestID(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.eventTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "failed to publish verification event",
			"type", string(evt.Type),
			"hash", evt.Hash,
			"error", err,
		)
	}
}

func latestWithReference(records []*models.VerificationRecord) *models.VerificationRecord {
	for _, rec := range records {
		if rec.HasReference() {
			return rec
		}
	}
	return nil
}

func hasReference(records []*models.VerificationRecord, reference string) bool {
	for _, rec := range records {
		if rec.HasReference() && rec.AnchorReference == reference {
			return true
		}
	}
	return false
}

func anyConfirmed(records []*models.VerificationRecord) bool {
	for _, rec := range records {
		if rec.IsConfirmed {
			return true
		}
	}
	return false
}

func anchorMode(m anchor.Mode) models.AnchorMode {
	switch m {
	case anchor.ModeLive:
		return models.AnchorModeLive
	case anchor.ModeSimulated:
		return models.AnchorModeSimulated
	default:
		return models.AnchorModeNone
	}
}

func modeOfReference(ref string) models.AnchorMode {
	switch {
	case ref == "":
		return models.AnchorModeNone
	case anchor.IsSimulatedReference(ref):
		return models.AnchorModeSimulated
	default:
		return models.AnchorModeLive
	}
}
