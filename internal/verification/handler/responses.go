package handler

import (
	"math"
	"time"

	"aidtrace/internal/verification/models"
)

// RecordResponse is one verification record.
type RecordResponse struct {
	ID          string     `json:"id"`
	EntityType  string     `json:"entity_type"`
	EntityID    int64      `json:"entity_id"`
	HashValue   string     `json:"hash_value"`
	TxID        string     `json:"tx_id,omitempty"`
	AnchorMode  string     `json:"anchor_mode,omitempty"`
	IsVerified  bool       `json:"is_verified"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// ListResponse is the response for GET /verifications.
type ListResponse struct {
	Verifications []RecordResponse `json:"verifications"`
	Count         int              `json:"count"`
}

// StatsResponse keeps the dashboard field names.
type StatsResponse struct {
	TotalVerifications int64   `json:"total_verifications"`
	VerifiedCount      int64   `json:"verified_count"`
	PendingCount       int64   `json:"pending_count"`
	VerificationRate   float64 `json:"verification_rate"`
}

// VerifyResponse is the response for POST /verifications/verify.
type VerifyResponse struct {
	Hash     string `json:"hash"`
	TxID     string `json:"tx_id"`
	Verified bool   `json:"verified"`
}

// BatchVerifyResponse is the response for POST /verifications/batch-verify.
type BatchVerifyResponse struct {
	Results map[string]bool `json:"results"`
}

// TimestampResponse is the response for GET /verifications/{hash}/timestamp.
type TimestampResponse struct {
	Hash       string    `json:"hash"`
	AnchoredAt time.Time `json:"anchored_at"`
}

func toRecordResponse(rec *models.VerificationRecord) RecordResponse {
	return RecordResponse{
		ID:          rec.ID.String(),
		EntityType:  string(rec.EntityType),
		EntityID:    rec.EntityID,
		HashValue:   rec.HashValue,
		TxID:        rec.AnchorReference,
		AnchorMode:  string(rec.AnchorMode),
		IsVerified:  rec.IsConfirmed,
		CreatedAt:   rec.CreatedAt,
		ConfirmedAt: rec.ConfirmedAt,
	}
}

func toListResponse(records []*models.VerificationRecord) ListResponse {
	out := ListResponse{Verifications: make([]RecordResponse, 0, len(records))}
	for _, rec := range records {
		out.Verifications = append(out.Verifications, toRecordResponse(rec))
	}
	out.Count = len(out.Verifications)
	return out
}

// toStatsResponse rounds the rate to two decimals.
func toStatsResponse(s models.Stats) StatsResponse {
	return StatsResponse{
		TotalVerifications: s.Total,
		VerifiedCount:      s.Confirmed,
		PendingCount:       s.Pending,
		VerificationRate:   math.Round(s.Rate*100) / 100,
	}
}
