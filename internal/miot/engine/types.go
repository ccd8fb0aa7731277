package engine

import (
	"context"
	"time"

	"github.com/nerrad567/miot-core/internal/miot/proto"
)

// Transport is the device I/O surface a Session drives. Both the local
// UDP client and the cloud HTTP client satisfy it.
//
// Implementations enforce MaxBatch on their own calls but do not chunk:
// callers split oversized request sets before invoking GetProperties or
// SetProperties.
type Transport interface {
	GetProperties(ctx context.Context, reqs []proto.PropertyRequest) ([]proto.PropertyValue, error)
	SetProperties(ctx context.Context, reqs []proto.SetRequest) ([]proto.PropertyValue, error)
	InvokeAction(ctx context.Context, req proto.ActionRequest) (proto.ActionResult, error)
	MaxBatch() int
}

// Logger is the minimal logging surface the engine needs. A nil logger
// is replaced with a no-op implementation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Availability is the device-level reachability verdict.
type Availability int

const (
	// AvailabilityUnknown is the state before the first poll cycle
	// completes.
	AvailabilityUnknown Availability = iota

	// Available means the device answered its most recent cycle.
	Available

	// Unavailable means the device crossed the consecutive failure
	// threshold or reported itself cloud-offline.
	Unavailable
)

// String returns the MQTT-friendly form of the availability state.
func (a Availability) String() string {
	switch a {
	case Available:
		return "online"
	case Unavailable:
		return "offline"
	default:
		return "unknown"
	}
}

// DebounceMode selects how a session suppresses the echo poll that
// would otherwise race a just-issued write.
type DebounceMode int

const (
	// DebounceSkip drops exactly one poll cycle after a write.
	DebounceSkip DebounceMode = iota

	// DebounceDelay suppresses polling for a fixed window after a
	// write. Cloud writes acknowledged as "propagating" extend the
	// window.
	DebounceDelay
)

// Snapshot is an immutable view of a device's decoded state at one
// point in time. Values holds decoded values keyed by mapping name;
// names the device did not answer for are absent.
type Snapshot struct {
	DID          string
	Availability Availability
	Values       map[string]any
	Time         time.Time
}

// EventType discriminates entries on a session's event stream.
type EventType int

const (
	// EventState carries a fresh snapshot after a completed cycle or a
	// successful write.
	EventState EventType = iota

	// EventOffline is the edge-triggered notification that the device
	// transitioned to Unavailable. It fires once per transition, not
	// once per failed cycle.
	EventOffline

	// EventDiagnostic carries a one-shot, human-readable hint such as
	// "device rejects local access, cloud connection required".
	EventDiagnostic
)

// Event is what subscribers receive. Snapshot is populated for
// EventState and EventOffline; Message for EventDiagnostic.
type Event struct {
	Type     EventType
	Snapshot Snapshot
	Message  string
}
