package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device DID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrInvalidRecord is returned when a record fails validation before persistence.
	ErrInvalidRecord = errors.New("device: invalid record")
)
