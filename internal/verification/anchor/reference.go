package anchor

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// SimulatedPrefix marks references synthesized without an anchor call.
	SimulatedPrefix = "sim_"

	// legacyDevPrefix is accepted on confirmation for references written by
	// older deployments.
	legacyDevPrefix = "dev_"

	referenceHashChars  = 16
	referenceNonceChars = 8
)

// IsSimulatedReference reports whether ref was produced in simulated mode.
func IsSimulatedReference(ref string) bool {
	return strings.HasPrefix(ref, SimulatedPrefix) || strings.HasPrefix(ref, legacyDevPrefix)
}

// SimulatedReference builds "sim_<first 16 hash chars>_<nonce>".
func SimulatedReference(hash, nonce string) string {
	truncated := hash
	if len(truncated) > referenceHashChars {
		truncated = truncated[:referenceHashChars]
	}
	return SimulatedPrefix + truncated + "_" + nonce
}

func randomNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:referenceNonceChars]
}
