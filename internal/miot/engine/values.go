package engine

import (
	"fmt"

	"github.com/nerrad567/miot-core/internal/miot/codec"
	"github.com/nerrad567/miot-core/internal/miot/spec"
)

// decode converts a wire value to its normalized form using the
// control metadata for the name. Names without metadata, and values
// that fail to decode, pass through raw; a sensor reading we cannot
// interpret is still worth showing.
func (s *Session) decode(name string, wire any) any {
	p, ok := s.params.Lookup(name)
	if !ok {
		return wire
	}
	switch p.Kind {
	case spec.ParamPower:
		if p.Power == nil {
			return wire
		}
		on, err := p.Power.Decode(wire)
		if err != nil {
			s.log.Debug("power decode failed", "did", s.did, "name", name, "value", wire)
			return wire
		}
		return on
	case spec.ParamRatio:
		v, err := p.Ratio.Decode(wire)
		if err != nil {
			s.log.Debug("ratio decode failed", "did", s.did, "name", name, "value", wire)
			return wire
		}
		return v
	case spec.ParamValueList:
		desc, err := p.List.Decode(wire)
		if err != nil {
			s.log.Debug("enum decode failed", "did", s.did, "name", name, "value", wire)
			return wire
		}
		return desc
	case spec.ParamValueRange:
		v, err := codec.ToFloat(wire)
		if err != nil {
			return wire
		}
		return v
	default:
		return wire
	}
}

// encode converts a normalized value to its wire form for a write.
// Unlike decode this is strict: writing a value the device cannot
// interpret is a caller error, not something to paper over.
func encode(p *spec.Params, value any) (any, error) {
	if p == nil {
		return value, nil
	}
	switch p.Kind {
	case spec.ParamPower:
		on, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: power expects bool, got %T", ErrInvalidValue, value)
		}
		if p.Power == nil {
			return on, nil
		}
		return p.Power.Encode(on), nil
	case spec.ParamRatio:
		f, err := codec.ToFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return p.Ratio.Encode(f), nil
	case spec.ParamValueList:
		switch v := value.(type) {
		case string:
			wire, err := p.List.Encode(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			return wire, nil
		default:
			// Raw enum values are accepted from callers that already
			// speak the wire encoding.
			f, err := codec.ToFloat(value)
			if err != nil {
				return nil, fmt.Errorf("%w: enum expects description or value, got %T", ErrInvalidValue, value)
			}
			return int64(f), nil
		}
	case spec.ParamValueRange:
		f, err := codec.ToFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		if p.Range != nil {
			f = p.Range.Clamp(f)
		}
		return f, nil
	default:
		return value, nil
	}
}
