package spec

import (
	"github.com/nerrad567/miot-core/internal/miot/codec"
)

// Address identifies a property or action within a device's capability
// spec. For properties AIID is zero; for actions PIID is zero.
type Address struct {
	SIID int `json:"siid"`
	PIID int `json:"piid,omitempty"`
	AIID int `json:"aiid,omitempty"`
}

// IsAction reports whether the address refers to an action.
func (a Address) IsAction() bool {
	return a.AIID != 0
}

// PropertyMapping is an ordered mapping from logical names to spec
// addresses. Built once per device by the adapter; read-only thereafter.
//
// Logical names are unique within a mapping. Action entries share the
// namespace with property entries but never collide because actions live
// under the "a_l_" prefix.
type PropertyMapping struct {
	names   []string
	entries map[string]Address
}

// NewPropertyMapping creates an empty mapping.
func NewPropertyMapping() *PropertyMapping {
	return &PropertyMapping{entries: make(map[string]Address)}
}

// Add inserts a logical name. Duplicate names are ignored so the first
// discovered address for a name wins.
func (m *PropertyMapping) Add(name string, addr Address) bool {
	if _, exists := m.entries[name]; exists {
		return false
	}
	m.names = append(m.names, name)
	m.entries[name] = addr
	return true
}

// Get returns the address for a logical name.
func (m *PropertyMapping) Get(name string) (Address, bool) {
	addr, ok := m.entries[name]
	return addr, ok
}

// Names returns all logical names in insertion order.
func (m *PropertyMapping) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// PropertyNames returns the logical names of property entries (excluding
// action-only entries) in insertion order. This is the set the engine
// polls.
func (m *PropertyMapping) PropertyNames() []string {
	out := make([]string, 0, len(m.names))
	for _, name := range m.names {
		if !m.entries[name].IsAction() {
			out = append(out, name)
		}
	}
	return out
}

// Len returns the number of entries.
func (m *PropertyMapping) Len() int {
	return len(m.names)
}

// ParamKind discriminates the control metadata variants.
type ParamKind int

// Control metadata variants. Downstream code switches on a closed set
// instead of probing dictionary keys.
const (
	// ParamPower is a boolean on/off property.
	ParamPower ParamKind = iota

	// ParamRatio is a numeric property scaled on read, inverse on write.
	ParamRatio

	// ParamValueList is an enumerated property with a bidirectional table.
	ParamValueList

	// ParamValueRange is a numeric property constrained to [min,max,step].
	ParamValueRange
)

// MotorValues holds the classified wire values of a cover's motor-control
// enum. Classification is keyword-based and best effort; Known reports
// whether a value was found for the state.
type MotorValues struct {
	Open  int64 `json:"open"`
	Close int64 `json:"close"`
	Stop  int64 `json:"stop"`

	HasOpen  bool `json:"has_open"`
	HasClose bool `json:"has_close"`
	HasStop  bool `json:"has_stop"`
}

// Params is the control metadata for one logical name: a tagged union of
// the variants the adapter recognizes, validated once at adaption time.
type Params struct {
	Kind ParamKind `json:"kind"`

	Power *codec.PowerValues `json:"power,omitempty"`
	Ratio codec.Ratio        `json:"ratio,omitempty"`
	List  codec.ValueList    `json:"value_list,omitempty"`
	Range *codec.ValueRange  `json:"value_range,omitempty"`

	// Motor is set for a cover's motor-control value list.
	Motor *MotorValues `json:"motor,omitempty"`

	// Access bits from the spec.
	Readable bool `json:"readable"`
	Writable bool `json:"writable"`
}

// ParamSet maps logical names to control metadata for one device category.
type ParamSet map[string]*Params

// ControlParams maps device categories to their parameter sets, matching
// the persisted configuration shape consumed by the entity layer.
type ControlParams map[string]ParamSet

// Has reports whether any category carries metadata for a logical name.
func (cp ControlParams) Has(name string) bool {
	for _, set := range cp {
		if _, ok := set[name]; ok {
			return true
		}
	}
	return false
}

// Lookup returns the first category's metadata for a logical name.
func (cp ControlParams) Lookup(name string) (*Params, bool) {
	for _, set := range cp {
		if p, ok := set[name]; ok {
			return p, true
		}
	}
	return nil, false
}
