package triage

import "errors"

// Sentinel errors returned by the root API.
var (
	// ErrNoStore indicates New was called without a store backend.
	ErrNoStore = errors.New("triage: no store configured")

	// ErrNoSigningSecret indicates New was called without a signing secret.
	ErrNoSigningSecret = errors.New("triage: no signing secret configured")
)
