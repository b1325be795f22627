package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aidtrace/internal/verification/models"
	"aidtrace/pkg/platform/httputil"
	"aidtrace/pkg/requestcontext"
)

// Service defines the verification operations exposed over HTTP.
type Service interface {
	Status(ctx context.Context, hash, reference string) (*models.HashStatus, error)
	BatchStatus(ctx context.Context, hashes []string) (map[string]bool, error)
	Stats(ctx context.Context) (models.Stats, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.VerificationRecord, error)
	AnchoredAt(ctx context.Context, hash string) (time.Time, error)
}

// Handler wires verification endpoints to the coordinator.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/verifications", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/stats", h.HandleStats)
		r.Post("/verify", h.HandleVerify)
		r.Post("/batch-verify", h.HandleBatchVerify)
		r.Get("/{hash}/timestamp", h.HandleTimestamp)
	})
}

// HandleList handles GET /verifications.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.service.List(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "list verifications failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(records))
}

// HandleStats handles GET /verifications/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification stats failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStatsResponse(stats))
}

// HandleVerify handles POST /verifications/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	status, err := h.service.Status(ctx, req.Hash, req.TxID)
	if err != nil {
		h.logger.ErrorContext(ctx, "hash status failed",
			"request_id", requestID,
			"hash", req.Hash,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "hash status checked",
		"request_id", requestID,
		"hash", status.Hash,
		"mode", string(status.Mode),
		"verified", status.Confirmed,
	)
	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{
		Hash:     status.Hash,
		TxID:     status.Reference,
		Verified: status.Confirmed,
	})
}

// HandleBatchVerify handles POST /verifications/batch-verify.
func (h *Handler) HandleBatchVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[BatchVerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	results, err := h.service.BatchStatus(ctx, req.Hashes)
	if err != nil {
		h.logger.ErrorContext(ctx, "batch status failed",
			"request_id", requestID,
			"count", len(req.Hashes),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "batch status checked",
		"request_id", requestID,
		"count", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, BatchVerifyResponse{Results: results})
}

// HandleTimestamp handles GET /verifications/{hash}/timestamp.
func (h *Handler) HandleTimestamp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hash := chi.URLParam(r, "hash")
	ts, err := h.service.AnchoredAt(ctx, hash)
	if err != nil {
		h.logger.WarnContext(ctx, "anchor timestamp lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"hash", hash,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TimestampResponse{Hash: hash, AnchoredAt: ts})
}
