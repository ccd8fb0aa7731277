package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/miot-core/internal/miot/proto"
	"github.com/nerrad567/miot-core/internal/miot/spec"
)

// Tuning defaults. Poll cadence leans conservative: the local protocol
// is chatty and some devices drop their Wi-Fi link when hammered.
const (
	defaultPollInterval     = 15 * time.Second
	defaultDebounceDelay    = 2 * time.Second
	defaultCloudWriteDelay  = 5 * time.Second
	defaultFailureThreshold = 3
)

// Config describes one device session.
type Config struct {
	// DID is the device identifier used on the wire.
	DID string

	// Mapping and Params come from the specification adapter.
	Mapping *spec.PropertyMapping
	Params  spec.ControlParams

	// Transport performs the actual device I/O.
	Transport Transport

	// Cloud marks the transport as cloud-backed. Cloud writes may be
	// acknowledged with a "propagating" code that warrants a longer
	// post-write debounce window.
	Cloud bool

	// PollInterval is the cadence of the background poll loop started
	// by Run. Zero selects the default.
	PollInterval time.Duration

	// DebounceMode and DebounceDelay control echo suppression after
	// writes. DebounceDelay only applies to DebounceDelay mode.
	DebounceMode  DebounceMode
	DebounceDelay time.Duration

	// CloudWriteDelay is the extended window after a cloud write that
	// was acknowledged as still propagating.
	CloudWriteDelay time.Duration

	// FailureThreshold is the number of consecutive failed poll cycles
	// before the device is marked Unavailable. Zero selects the default.
	FailureThreshold int

	Logger Logger
}

// addrKey correlates result items back to mapping names.
type addrKey struct {
	siid int
	piid int
}

// Session synchronizes one device: it owns the poll cadence, write
// debounce, batching, and result classification, and publishes decoded
// snapshots to subscribers.
//
// All methods are safe for concurrent use. Poll cycles are serialized
// internally; a write issued mid-cycle takes effect on the next cycle.
type Session struct {
	did       string
	mapping   *spec.PropertyMapping
	params    spec.ControlParams
	transport Transport
	cloud     bool
	log       Logger

	pollInterval     time.Duration
	debounceMode     DebounceMode
	debounceDelay    time.Duration
	cloudWriteDelay  time.Duration
	failureThreshold int

	// reqs is the fixed poll request list, one entry per property name
	// in mapping order. addrNames maps each polled address back to the
	// names it feeds; merged mappings may alias one address under both
	// a canonical and a prefixed name.
	reqs      []proto.PropertyRequest
	addrNames map[addrKey][]string

	mu             sync.Mutex
	values         map[string]any
	availability   Availability
	failures       int
	skipNext       bool
	debounceUntil  time.Time
	needsCloudSent bool
	vendorHintSent bool
	closed         bool

	subMu sync.RWMutex
	subs  map[string]func(Event)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a session. The mapping and params are treated as
// read-only after this call.
func New(cfg Config) (*Session, error) {
	if cfg.DID == "" {
		return nil, fmt.Errorf("session: device id is required")
	}
	if cfg.Mapping == nil {
		return nil, fmt.Errorf("session: property mapping is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = defaultDebounceDelay
	}
	if cfg.CloudWriteDelay <= 0 {
		cfg.CloudWriteDelay = defaultCloudWriteDelay
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	s := &Session{
		did:              cfg.DID,
		mapping:          cfg.Mapping,
		params:           cfg.Params,
		transport:        cfg.Transport,
		cloud:            cfg.Cloud,
		log:              cfg.Logger,
		pollInterval:     cfg.PollInterval,
		debounceMode:     cfg.DebounceMode,
		debounceDelay:    cfg.DebounceDelay,
		cloudWriteDelay:  cfg.CloudWriteDelay,
		failureThreshold: cfg.FailureThreshold,
		addrNames:        make(map[addrKey][]string),
		values:           make(map[string]any),
		subs:             make(map[string]func(Event)),
		done:             make(chan struct{}),
	}

	for _, name := range cfg.Mapping.PropertyNames() {
		addr, _ := cfg.Mapping.Get(name)
		key := addrKey{siid: addr.SIID, piid: addr.PIID}
		if _, seen := s.addrNames[key]; !seen {
			s.reqs = append(s.reqs, proto.PropertyRequest{
				DID:  cfg.DID,
				SIID: addr.SIID,
				PIID: addr.PIID,
			})
		}
		s.addrNames[key] = append(s.addrNames[key], name)
	}
	return s, nil
}

// DID returns the device identifier.
func (s *Session) DID() string { return s.did }

// Requests returns the session's fixed poll request list. The
// coordinator uses it to merge cloud sessions into one batched call.
func (s *Session) Requests() []proto.PropertyRequest {
	out := make([]proto.PropertyRequest, len(s.reqs))
	copy(out, s.reqs)
	return out
}

// Snapshot returns the current decoded state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Availability returns the current reachability verdict.
func (s *Session) Availability() Availability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availability
}

// Run polls the device on the configured cadence until the context is
// cancelled or Stop is called. The first cycle runs immediately.
func (s *Session) Run(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Poll(ctx)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.Poll(ctx)
			}
		}
	}()
}

// Stop halts the poll loop and rejects further operations. In-flight
// cycles finish; their results are still applied.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Poll runs one synchronization cycle: fetch every mapped property in
// transport-sized batches, classify the per-item result codes, and
// publish the resulting snapshot.
//
// Transport failures are absorbed into the failure counter rather than
// returned; the previous snapshot stays current until the device either
// answers again or crosses the failure threshold. The returned error is
// non-nil only for a closed session.
func (s *Session) Poll(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrSessionClosed
	}
	if s.consumeDebounceLocked(time.Now()) {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.log.Debug("poll debounced", "did", s.did)
		return snap, nil
	}
	s.mu.Unlock()

	results, err := s.fetch(ctx)
	if err != nil {
		return s.recordFailure(err), nil
	}
	return s.applyResults(results), nil
}

// Ingest applies externally fetched results, typically delivered by the
// cloud polling coordinator. Debounce windows armed by recent writes
// are honored the same way Poll honors them.
//
// An empty result set counts as a failed cycle: a registered device
// that the merged response does not mention at all was not answered,
// and treating that as success would wipe the cached values and pin
// availability online no matter how long the silence lasts.
func (s *Session) Ingest(results []proto.PropertyValue) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.consumeDebounceLocked(time.Now()) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if len(results) == 0 {
		s.recordFailure(errors.New("device absent from poll response"))
		return
	}
	s.applyResults(results)
}

// IngestFailure records a failed externally driven cycle.
func (s *Session) IngestFailure(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.recordFailure(err)
}

// fetch retrieves all mapped properties, splitting the request list
// into ceil(n/limit) transport calls. Any batch failure fails the whole
// cycle; partial state is worse than stale state.
func (s *Session) fetch(ctx context.Context) ([]proto.PropertyValue, error) {
	limit := s.transport.MaxBatch()
	if limit <= 0 {
		limit = len(s.reqs)
	}
	results := make([]proto.PropertyValue, 0, len(s.reqs))
	for start := 0; start < len(s.reqs); start += limit {
		end := start + limit
		if end > len(s.reqs) {
			end = len(s.reqs)
		}
		batch, err := s.transport.GetProperties(ctx, s.reqs[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

// applyResults classifies per-item result codes, decodes answered
// values, updates availability, and publishes events.
func (s *Session) applyResults(results []proto.PropertyValue) Snapshot {
	s.mu.Lock()

	values := make(map[string]any, len(results))
	var unsupported int
	var offline, vendorHint bool
	for _, r := range results {
		names := s.addrNames[addrKey{siid: r.SIID, piid: r.PIID}]
		switch r.Code {
		case proto.CodeOK:
			for _, name := range names {
				values[name] = s.decode(name, r.Value)
			}
		case proto.CodeNotSupportedLocal:
			unsupported++
		case proto.CodeVendorNotLocal:
			vendorHint = true
		case proto.CodeCloudOffline:
			offline = true
		default:
			s.log.Debug("property read rejected",
				"did", s.did, "siid", r.SIID, "piid", r.PIID, "code", r.Code)
		}
	}

	// The device answered at the transport level, so the counter resets
	// even when individual items were rejected.
	s.failures = 0
	prev := s.availability
	if offline {
		s.availability = Unavailable
	} else {
		s.availability = Available
	}
	s.values = values

	var extra []Event
	if offline && prev != Unavailable {
		s.log.Warn("device reports cloud offline", "did", s.did)
		extra = append(extra, Event{Type: EventOffline, Snapshot: s.snapshotLocked()})
	}
	if len(results) > 0 && unsupported == len(results) && !s.needsCloudSent {
		s.needsCloudSent = true
		extra = append(extra, Event{
			Type:    EventDiagnostic,
			Message: "device rejects all local property reads, cloud connection required",
		})
	}
	if vendorHint && !s.vendorHintSent {
		s.vendorHintSent = true
		extra = append(extra, Event{
			Type:    EventDiagnostic,
			Message: "vendor restricts this device to cloud control",
		})
	}

	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventState, Snapshot: snap})
	for _, ev := range extra {
		s.publish(ev)
	}
	return snap
}

// recordFailure counts a failed cycle. Below the threshold the previous
// snapshot stays current; at the threshold the device transitions to
// Unavailable exactly once.
func (s *Session) recordFailure(err error) Snapshot {
	s.mu.Lock()
	s.failures++
	transitioned := false
	if s.failures >= s.failureThreshold && s.availability != Unavailable {
		s.availability = Unavailable
		transitioned = true
	}
	snap := s.snapshotLocked()
	failures := s.failures
	s.mu.Unlock()

	if transitioned {
		s.log.Warn("device unavailable",
			"did", s.did, "consecutive_failures", failures, "error", err)
		s.publish(Event{Type: EventState, Snapshot: snap})
		s.publish(Event{Type: EventOffline, Snapshot: snap})
	} else {
		s.log.Debug("poll cycle failed",
			"did", s.did, "consecutive_failures", failures, "error", err)
	}
	return snap
}

// consumeDebounceLocked reports whether the current cycle should be
// suppressed, consuming a pending skip if one is armed.
func (s *Session) consumeDebounceLocked(now time.Time) bool {
	if s.skipNext {
		s.skipNext = false
		return true
	}
	return now.Before(s.debounceUntil)
}

// armDebounceLocked suppresses the echo poll after a write. A cloud
// write still propagating gets the longer window regardless of mode.
func (s *Session) armDebounceLocked(propagating bool) {
	if propagating {
		s.debounceUntil = time.Now().Add(s.cloudWriteDelay)
		return
	}
	switch s.debounceMode {
	case DebounceSkip:
		s.skipNext = true
	case DebounceDelay:
		s.debounceUntil = time.Now().Add(s.debounceDelay)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	values := make(map[string]any, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return Snapshot{
		DID:          s.did,
		Availability: s.availability,
		Values:       values,
		Time:         time.Now(),
	}
}
