package sentinel

import "errors"

// Infrastructure facts returned (optionally wrapped) by stores, caches and
// outbound clients. Services translate them into domain errors.
//
// - ErrNotFound: no row / key for the lookup
// - ErrConflict: write collided with existing state
// - ErrUnavailable: dependency unreachable or not configured
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
