package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/miot-core/internal/miot/proto"
	"github.com/nerrad567/miot-core/internal/miot/spec"
)

// SetProperty writes one normalized value to the device and, on
// success, optimistically folds it into the current snapshot so
// subscribers see the new state before the next poll confirms it.
//
// Write failures are returned to the caller, unlike poll failures.
func (s *Session) SetProperty(ctx context.Context, name string, value any) error {
	return s.SetProperties(ctx, []Write{{Name: name, Value: value}})
}

// Write is one entry of a multi-property write.
type Write struct {
	Name  string
	Value any
}

// SetProperties writes several properties in one transport batch.
// Encoding is validated for every entry before anything is sent; a
// single bad value rejects the whole write. Per-item device rejections
// after the send are joined into the returned error, and accepted items
// still update the snapshot.
func (s *Session) SetProperties(ctx context.Context, writes []Write) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	if len(writes) == 0 {
		return nil
	}
	if limit := s.transport.MaxBatch(); limit > 0 && len(writes) > limit {
		return fmt.Errorf("%w: %d writes exceed transport batch limit %d",
			ErrInvalidValue, len(writes), limit)
	}

	reqs := make([]proto.SetRequest, 0, len(writes))
	for _, w := range writes {
		addr, p, err := s.resolveProperty(w.Name)
		if err != nil {
			return err
		}
		wire, err := encode(p, w.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", w.Name, err)
		}
		reqs = append(reqs, proto.SetRequest{
			DID:   s.did,
			SIID:  addr.SIID,
			PIID:  addr.PIID,
			Value: wire,
		})
	}

	wireByAddr := make(map[addrKey]any, len(reqs))
	for _, req := range reqs {
		wireByAddr[addrKey{siid: req.SIID, piid: req.PIID}] = req.Value
	}

	results, err := s.transport.SetProperties(ctx, reqs)
	if err != nil {
		return fmt.Errorf("set properties: %w", err)
	}

	var errs []error
	propagating := false
	accepted := make(map[addrKey]any, len(results))
	for _, r := range results {
		key := addrKey{siid: r.SIID, piid: r.PIID}
		switch r.Code {
		case proto.CodeOK:
			accepted[key] = wireByAddr[key]
		case proto.CodeAccepted:
			if s.cloud {
				propagating = true
				accepted[key] = wireByAddr[key]
				continue
			}
			errs = append(errs, fmt.Errorf("%w: siid %d piid %d code %d",
				ErrWriteRejected, r.SIID, r.PIID, r.Code))
		case proto.CodeCloudOffline:
			errs = append(errs, fmt.Errorf("%w: siid %d piid %d",
				ErrDeviceOffline, r.SIID, r.PIID))
		default:
			errs = append(errs, fmt.Errorf("%w: siid %d piid %d code %d",
				ErrWriteRejected, r.SIID, r.PIID, r.Code))
		}
	}

	if len(accepted) > 0 {
		s.mu.Lock()
		for key, wire := range accepted {
			for _, name := range s.addrNames[key] {
				s.values[name] = s.decode(name, wire)
			}
		}
		s.armDebounceLocked(propagating)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publish(Event{Type: EventState, Snapshot: snap})
	}
	if s.markOfflineFromWrite(errs) {
		// Edge notification already sent by markOfflineFromWrite.
		s.log.Warn("write reports cloud offline", "did", s.did)
	}
	return errors.Join(errs...)
}

// CallAction invokes a mapped action with pre-encoded arguments and
// returns the device's output values. A successful invocation arms the
// same echo debounce as a write, since actions usually mutate state the
// next poll would otherwise race.
func (s *Session) CallAction(ctx context.Context, name string, in []any) ([]any, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()

	addr, ok := s.mapping.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	if !addr.IsAction() {
		return nil, fmt.Errorf("%w: %s", ErrNotAction, name)
	}

	result, err := s.transport.InvokeAction(ctx, proto.ActionRequest{
		DID:  s.did,
		SIID: addr.SIID,
		AIID: addr.AIID,
		In:   in,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", name, err)
	}
	switch result.Code {
	case proto.CodeOK:
	case proto.CodeAccepted:
		if !s.cloud {
			return nil, fmt.Errorf("%w: %s code %d", ErrActionRejected, name, result.Code)
		}
	case proto.CodeCloudOffline:
		return nil, fmt.Errorf("%w: %s", ErrDeviceOffline, name)
	default:
		return nil, fmt.Errorf("%w: %s code %d", ErrActionRejected, name, result.Code)
	}

	s.mu.Lock()
	s.armDebounceLocked(s.cloud && result.Code == proto.CodeAccepted)
	s.mu.Unlock()
	return result.Out, nil
}

// resolveProperty validates that a name maps to a writable property.
func (s *Session) resolveProperty(name string) (spec.Address, *spec.Params, error) {
	addr, ok := s.mapping.Get(name)
	if !ok {
		return spec.Address{}, nil, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	if addr.IsAction() {
		return spec.Address{}, nil, fmt.Errorf("%w: %s", ErrNotProperty, name)
	}
	p, ok := s.params.Lookup(name)
	if ok && !p.Writable {
		return spec.Address{}, nil, fmt.Errorf("%w: %s", ErrNotWritable, name)
	}
	if !ok {
		p = nil
	}
	return addr, p, nil
}

// markOfflineFromWrite transitions the session to Unavailable when a
// write surfaced the cloud-offline code. Returns true on the edge.
func (s *Session) markOfflineFromWrite(errs []error) bool {
	offline := false
	for _, err := range errs {
		if errors.Is(err, ErrDeviceOffline) {
			offline = true
			break
		}
	}
	if !offline {
		return false
	}
	s.mu.Lock()
	if s.availability == Unavailable {
		s.mu.Unlock()
		return false
	}
	s.availability = Unavailable
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(Event{Type: EventState, Snapshot: snap})
	s.publish(Event{Type: EventOffline, Snapshot: snap})
	return true
}
