// Package codec converts between device wire values and normalized
// application values.
//
// MIoT devices report properties in vendor units: a humidity sensor may
// report 4512 for 45.12%, a fan speed may be an enumerated integer with
// human-readable descriptions, a cover position may use a vendor-specific
// range. The codecs here are pure and stateless; both the specification
// adapter and the synchronization engine use them.
package codec

import (
	"fmt"
	"math"
)

// Ratio is a multiplicative scale applied to wire values on read and
// inverted on write.
//
// Example: a ratio of 0.01 decodes wire value 4512 to 45.12.
type Ratio float64

// Decode converts a wire value to a normalized value by applying the ratio.
//
// Parameters:
//   - wire: Raw value from the device (any numeric type or bool)
//
// Returns:
//   - float64: Normalized value
//   - error: If the wire value is not numeric
func (r Ratio) Decode(wire any) (float64, error) {
	v, err := ToFloat(wire)
	if err != nil {
		return 0, fmt.Errorf("%w: ratio decode: %w", ErrNotNumeric, err)
	}
	return v * float64(r), nil
}

// Encode converts a normalized value back to its wire representation by
// applying the inverse ratio. A zero ratio encodes to zero rather than
// dividing by zero.
func (r Ratio) Encode(value float64) float64 {
	if r == 0 {
		return 0
	}
	return value / float64(r)
}

// ValueListItem is a single {value, description} pair from a property's
// enumerated value list.
type ValueListItem struct {
	Value       int64  `json:"value"`
	Description string `json:"description"`
}

// ValueList is a bidirectional enum table built from a property's
// value-list constraint.
//
// Lookups are linear; value lists observed in real specs have fewer than
// a dozen entries.
type ValueList []ValueListItem

// Decode returns the description for a wire value.
//
// Parameters:
//   - wire: Raw enumerated value from the device
//
// Returns:
//   - string: Human-stable description for the value
//   - error: If the wire value is not numeric or not in the list
func (vl ValueList) Decode(wire any) (string, error) {
	f, err := ToFloat(wire)
	if err != nil {
		return "", fmt.Errorf("%w: value list decode: %w", ErrNotNumeric, err)
	}
	v := int64(f)
	for _, item := range vl {
		if item.Value == v {
			return item.Description, nil
		}
	}
	return "", fmt.Errorf("%w: value %d", ErrValueNotFound, v)
}

// Encode returns the wire value for a description.
//
// Parameters:
//   - description: Normalized description to look up
//
// Returns:
//   - int64: Wire value for the description
//   - error: If the description is not in the list
func (vl ValueList) Encode(description string) (int64, error) {
	for _, item := range vl {
		if item.Description == description {
			return item.Value, nil
		}
	}
	return 0, fmt.Errorf("%w: description %q", ErrValueNotFound, description)
}

// Descriptions returns all descriptions in list order.
func (vl ValueList) Descriptions() []string {
	out := make([]string, 0, len(vl))
	for _, item := range vl {
		out = append(out, item.Description)
	}
	return out
}

// ValueRange is a numeric [min, max, step] constraint from a property's
// value-range.
type ValueRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Clamp constrains a value to [Min, Max] and snaps it to the nearest step.
func (vr ValueRange) Clamp(value float64) float64 {
	if value < vr.Min {
		value = vr.Min
	}
	if value > vr.Max {
		value = vr.Max
	}
	if vr.Step > 0 {
		steps := math.Round((value - vr.Min) / vr.Step)
		value = vr.Min + steps*vr.Step
		if value > vr.Max {
			value -= vr.Step
		}
	}
	return value
}

// Contains reports whether a value lies within [Min, Max].
func (vr ValueRange) Contains(value float64) bool {
	return value >= vr.Min && value <= vr.Max
}

// Remap converts a value from this range to the equivalent position in
// another range. Used when a device exposes a vendor-specific position
// range that must be presented as 0-100.
//
// A degenerate source range (Min == Max) remaps to the target minimum.
func (vr ValueRange) Remap(value float64, target ValueRange) float64 {
	span := vr.Max - vr.Min
	if span == 0 {
		return target.Min
	}
	fraction := (vr.Clamp(value) - vr.Min) / span
	return target.Clamp(target.Min + fraction*(target.Max-target.Min))
}

// PowerValues holds the wire values for a boolean power property.
//
// Most devices use true/false, but some expose power as an enumerated
// integer; the adapter records whichever pair the spec declares.
type PowerValues struct {
	On  any `json:"power_on"`
	Off any `json:"power_off"`
}

// Encode returns the wire value for the requested power state.
func (pv PowerValues) Encode(on bool) any {
	if on {
		return pv.On
	}
	return pv.Off
}

// Decode reports whether a wire value means "on".
//
// Comparison is numeric-aware so that an int64 1 from the local transport
// matches a float64 1 recorded from JSON.
func (pv PowerValues) Decode(wire any) (bool, error) {
	if equalWire(wire, pv.On) {
		return true, nil
	}
	if equalWire(wire, pv.Off) {
		return false, nil
	}
	return false, fmt.Errorf("%w: power value %v", ErrValueNotFound, wire)
}

// equalWire compares two wire values, treating all numeric types as
// equivalent when their values match.
func equalWire(a, b any) bool {
	if a == b {
		return true
	}
	fa, errA := ToFloat(a)
	fb, errB := ToFloat(b)
	if errA == nil && errB == nil {
		return fa == fb
	}
	return false
}

// ToFloat coerces a wire value to float64.
//
// JSON decoding yields float64, the local transport may yield integer
// types, and booleans map to 0/1 as some devices report boolean
// properties numerically.
//
// Returns:
//   - float64: Coerced value
//   - error: If the value has no numeric interpretation
func ToFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, value)
	}
}
