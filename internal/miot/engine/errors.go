package engine

import "errors"

var (
	// ErrUnknownName indicates the requested name is not present in the
	// device's property mapping.
	ErrUnknownName = errors.New("unknown name")

	// ErrNotWritable indicates a write was attempted against a
	// read-only property.
	ErrNotWritable = errors.New("property not writable")

	// ErrNotAction indicates callAction was invoked with a name that
	// maps to a property, or setProperty with a name that maps to an
	// action.
	ErrNotAction = errors.New("name is not an action")

	// ErrNotProperty is the inverse of ErrNotAction.
	ErrNotProperty = errors.New("name is not a property")

	// ErrInvalidValue indicates a write value that cannot be encoded
	// for the target property.
	ErrInvalidValue = errors.New("invalid value")

	// ErrWriteRejected indicates the device answered a write with a
	// non-success result code.
	ErrWriteRejected = errors.New("write rejected")

	// ErrActionRejected indicates the device answered an action
	// invocation with a non-success result code.
	ErrActionRejected = errors.New("action rejected")

	// ErrDeviceOffline indicates the cloud reports the device as
	// disconnected.
	ErrDeviceOffline = errors.New("device offline")

	// ErrSessionClosed indicates an operation on a stopped session.
	ErrSessionClosed = errors.New("session closed")

	// ErrCoordinatorClosed indicates registration against a stopped
	// coordinator.
	ErrCoordinatorClosed = errors.New("coordinator closed")
)
