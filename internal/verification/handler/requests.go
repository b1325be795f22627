package handler

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"aidtrace/internal/verification/fingerprint"
	"aidtrace/internal/verification/models"
	dErrors "aidtrace/pkg/domain-errors"
)

const maxBatchHashes = 500

var validate = newValidator()

// newValidator registers "digest", which accepts only bare lowercase SHA-256
// hex. Validate lowercases input first.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("digest", func(fl validator.FieldLevel) bool {
		return fingerprint.IsValidHash(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// VerifyRequest is the body of POST /verifications/verify.
type VerifyRequest struct {
	Hash string `json:"hash" validate:"required,digest"`
	TxID string `json:"tx_id" validate:"omitempty,max=256"`
}

// Validate implements httputil.Validatable.
func (r *VerifyRequest) Validate() error {
	r.Hash = strings.ToLower(strings.TrimSpace(r.Hash))
	r.TxID = strings.TrimSpace(r.TxID)
	return validationError(validate.Struct(r))
}

// BatchVerifyRequest is the body of POST /verifications/batch-verify.
type BatchVerifyRequest struct {
	Hashes []string `json:"hashes" validate:"required,min=1,max=500,dive,required,digest"`
}

// Validate implements httputil.Validatable.
func (r *BatchVerifyRequest) Validate() error {
	if len(r.Hashes) > maxBatchHashes {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d hashes per batch", maxBatchHashes))
	}
	for i, h := range r.Hashes {
		r.Hashes[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return validationError(validate.Struct(r))
}

// parseListFilter reads entity_type, entity_id, confirmed and limit.
func parseListFilter(q url.Values) (models.ListFilter, error) {
	var filter models.ListFilter
	if raw := q.Get("entity_type"); raw != "" {
		t, err := models.ParseEntityType(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "entity_type must be one of transaction, report, distribution, project, other")
		}
		filter.EntityType = &t
	}
	if raw := q.Get("entity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return filter, dErrors.New(dErrors.CodeValidation, "entity_id must be a positive integer")
		}
		filter.EntityID = &id
	}
	if raw := q.Get("confirmed"); raw != "" {
		confirmed, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "confirmed must be true or false")
		}
		filter.Confirmed = &confirmed
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required", "min":
			return dErrors.New(dErrors.CodeValidation, field+" is required")
		case "digest":
			return dErrors.New(dErrors.CodeValidation, field+" must be a 64 character hex digest")
		default:
			return dErrors.New(dErrors.CodeValidation, field+" is invalid")
		}
	}
	return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
}
