package manager

import "errors"

// Domain errors for the manager package.
var (
	// ErrUnknownDevice is returned when a DID has no running session.
	ErrUnknownDevice = errors.New("manager: unknown device")

	// ErrCloudUnavailable is returned when a device is configured for
	// cloud mode but no cloud transport was provided.
	ErrCloudUnavailable = errors.New("manager: cloud transport unavailable")

	// ErrNoSessions is returned by Start when no configured device
	// could be brought up.
	ErrNoSessions = errors.New("manager: no devices started")
)
