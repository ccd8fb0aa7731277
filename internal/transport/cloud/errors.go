package cloud

import "errors"

// Sentinel errors for cloud transport operations.
var (
	// ErrAuthInvalid indicates the auth context was rejected and the
	// caller must re-login. Propagated as a distinct signal, never
	// swallowed.
	ErrAuthInvalid = errors.New("cloud: auth invalid, re-login required")

	// ErrLoginFailed indicates the multi-step login could not complete.
	ErrLoginFailed = errors.New("cloud: login failed")

	// ErrRequestFailed indicates a network-level failure talking to the
	// vendor API.
	ErrRequestFailed = errors.New("cloud: request failed")

	// ErrAPIError indicates the vendor API returned a top-level error code.
	ErrAPIError = errors.New("cloud: api error")
)
