package spec

import "errors"

// Sentinel errors for spec operations.
var (
	// ErrMalformedSpec indicates raw capability data could not be parsed.
	ErrMalformedSpec = errors.New("spec: malformed capability spec")

	// ErrSpecNotFound indicates no spec exists for the requested model.
	ErrSpecNotFound = errors.New("spec: not found")

	// ErrFetchFailed indicates the remote spec service could not be reached.
	ErrFetchFailed = errors.New("spec: fetch failed")
)
