package spec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nerrad567/miot-core/internal/miot/codec"
)

// Access flag values used in capability specs.
const (
	AccessRead   = "read"
	AccessWrite  = "write"
	AccessNotify = "notify"
)

// Document is a parsed MIoT capability specification.
//
// The tree is immutable once fetched; the adapter never mutates it.
type Document struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Services    []Service `json:"services"`
}

// Service is one service within a capability spec, identified by siid.
type Service struct {
	IID         int        `json:"iid"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Properties  []Property `json:"properties,omitempty"`
	Actions     []Action   `json:"actions,omitempty"`
}

// Property is one property within a service, identified by piid.
type Property struct {
	IID         int                   `json:"iid"`
	Type        string                `json:"type"`
	Description string                `json:"description"`
	Format      string                `json:"format"`
	Access      []string              `json:"access"`
	Unit        string                `json:"unit,omitempty"`
	ValueRange  []float64             `json:"value-range,omitempty"`
	ValueList   []codec.ValueListItem `json:"value-list,omitempty"`
}

// Action is one action within a service, identified by aiid.
type Action struct {
	IID         int    `json:"iid"`
	Type        string `json:"type"`
	Description string `json:"description"`
	In          []int  `json:"in,omitempty"`
	Out         []int  `json:"out,omitempty"`
}

// Key returns the logical key for the service, derived from its type URN.
func (s Service) Key() string {
	return nameFromURN(s.Type)
}

// Key returns the logical key for the property, derived from its type URN.
func (p Property) Key() string {
	return nameFromURN(p.Type)
}

// Key returns the logical key for the action, derived from its type URN.
func (a Action) Key() string {
	return nameFromURN(a.Type)
}

// Readable reports whether the property carries the read access flag.
func (p Property) Readable() bool {
	return p.hasAccess(AccessRead)
}

// Writable reports whether the property carries the write access flag.
func (p Property) Writable() bool {
	return p.hasAccess(AccessWrite)
}

func (p Property) hasAccess(flag string) bool {
	for _, a := range p.Access {
		if a == flag {
			return true
		}
	}
	return false
}

// Range returns the property's value-range constraint, if well formed.
//
// A malformed range (fewer than three elements, or min > max) yields
// ok=false; the caller omits the property from ControlParams rather than
// failing the whole adaption.
func (p Property) Range() (codec.ValueRange, bool) {
	if len(p.ValueRange) < 3 {
		return codec.ValueRange{}, false
	}
	vr := codec.ValueRange{Min: p.ValueRange[0], Max: p.ValueRange[1], Step: p.ValueRange[2]}
	if vr.Min > vr.Max {
		return codec.ValueRange{}, false
	}
	return vr, true
}

// IsBool reports whether the property format is boolean.
func (p Property) IsBool() bool {
	return p.Format == "bool"
}

// IsNumeric reports whether the property format is a numeric type.
func (p Property) IsNumeric() bool {
	switch p.Format {
	case "uint8", "uint16", "uint32", "int8", "int16", "int32", "int64", "float":
		return true
	default:
		return false
	}
}

// ParseDocument parses raw capability spec JSON.
//
// An empty or unparseable document is not an error for the adapter
// (callers degrade to manual configuration), but parsing itself reports
// malformed JSON so configuration errors surface at setup time.
func ParseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSpec, err)
	}
	return &doc, nil
}

// nonWord matches characters that are not valid in a logical key.
var nonWord = regexp.MustCompile(`[^a-z0-9_]+`)

// nameFromURN derives a logical key from a type URN.
//
// Full URNs look like "urn:miot-spec-v2:service:air-conditioner:00007801:1";
// the name segment is the fourth field. Shorter forms fall back to the last
// segment. Non-word characters become underscores so keys are stable map
// keys and MQTT topic components.
func nameFromURN(urn string) string {
	parts := strings.Split(urn, ":")
	var name string
	switch {
	case len(parts) >= 4:
		name = parts[3]
	case len(parts) > 0:
		name = parts[len(parts)-1]
	}
	name = strings.ToLower(name)
	return nonWord.ReplaceAllString(name, "_")
}
