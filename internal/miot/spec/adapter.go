package spec

import (
	"fmt"

	"github.com/nerrad567/miot-core/internal/miot/codec"
)

// Logger defines the logging interface used by the adapter and fetcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// maxServiceInstances caps the dedupe counter for repeated services.
// A device exposing the same capability more than four times is outside
// anything observed in real specs.
const maxServiceInstances = 4

// percentScale is the normalized upper bound for percentage properties.
const percentScale = 100

// Result is the adapter's output for one device.
type Result struct {
	// Mapping is the logical name -> address table (properties and actions).
	Mapping *PropertyMapping

	// Params is the control metadata, keyed by category then logical name.
	Params ControlParams

	// Categories are the inferred entity categories, in discovery order.
	Categories []string

	// Warnings are non-fatal adaption diagnostics (dropped duplicates,
	// malformed constraints). Surfaced to the caller, never fatal.
	Warnings []string
}

// Empty reports whether adaption produced no usable mapping. Callers must
// treat an empty result as "unsupported device, fall back to manual
// configuration", not as an error.
func (r *Result) Empty() bool {
	return r.Mapping.Len() == 0
}

// Adapter converts capability specs into property mappings and control
// metadata. It is stateless apart from its logger and safe for concurrent
// use.
type Adapter struct {
	logger Logger
}

// NewAdapter creates an adapter with a no-op logger.
func NewAdapter() *Adapter {
	return &Adapter{logger: noopLogger{}}
}

// SetLogger sets the logger used for adaption diagnostics.
func (a *Adapter) SetLogger(logger Logger) {
	a.logger = logger
}

// resolvedService pairs a service with its deduplicated key.
type resolvedService struct {
	service  Service
	key      string // deduplicated service key ("switch", "switch_2", ...)
	baseKey  string // key before dedupe suffixing
	category string // inferred category, "" if unrecognized
}

// Adapt converts a capability spec into a mapping, control parameters,
// and inferred categories.
//
// declaredCategory is the device's own category (from its model or user
// configuration); the first service matching it becomes the main service
// and contributes unprefixed canonical names. An empty or nil document
// yields an empty result.
func (a *Adapter) Adapt(doc *Document, declaredCategory string) *Result {
	res := &Result{
		Mapping: NewPropertyMapping(),
		Params:  make(ControlParams),
	}
	if doc == nil || len(doc.Services) == 0 {
		return res
	}

	services := a.resolveServices(doc, res)

	mainIdx := pickMainService(services, declaredCategory)
	mainCategory := ""
	if mainIdx >= 0 {
		mainCategory = services[mainIdx].category
	}

	for i, rs := range services {
		main := i == mainIdx
		merged := mainCategory == "climate" && climateMergeServices[rs.baseKey]
		a.adaptService(rs, main, merged, mainCategory, res)
	}

	a.postProcessCover(res)
	return res
}

// resolveServices derives deduplicated keys and categories for every
// service, accumulating inferred categories on the result.
func (a *Adapter) resolveServices(doc *Document, res *Result) []resolvedService {
	seen := make(map[string]int)
	services := make([]resolvedService, 0, len(doc.Services))
	haveCategory := make(map[string]bool)

	for _, s := range doc.Services {
		baseKey := s.Key()
		if baseKey == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("service siid=%d has no derivable key", s.IID))
			continue
		}

		seen[baseKey]++
		count := seen[baseKey]
		if count > maxServiceInstances {
			res.Warnings = append(res.Warnings, fmt.Sprintf("service %q instance %d exceeds limit, skipped", baseKey, count))
			continue
		}
		key := baseKey
		if count > 1 {
			key = fmt.Sprintf("%s_%d", baseKey, count)
		}

		category := categoryForService(baseKey)
		if category != "" && !haveCategory[category] {
			haveCategory[category] = true
			res.Categories = append(res.Categories, category)
		}

		services = append(services, resolvedService{
			service:  s,
			key:      key,
			baseKey:  baseKey,
			category: category,
		})
	}
	return services
}

// pickMainService returns the index of the main service: the first whose
// inferred category matches the declared one, falling back to the first
// recognized service.
func pickMainService(services []resolvedService, declaredCategory string) int {
	for i, rs := range services {
		if rs.category != "" && rs.category == declaredCategory {
			return i
		}
	}
	for i, rs := range services {
		if rs.category != "" {
			return i
		}
	}
	return -1
}

// adaptService emits mapping entries for one service and, for the main
// or merged service, canonical names plus control parameters.
func (a *Adapter) adaptService(rs resolvedService, main, merged bool, mainCategory string, res *Result) {
	for _, p := range rs.service.Properties {
		propKey := p.Key()
		if propKey == "" {
			continue
		}
		addr := Address{SIID: rs.service.IID, PIID: p.IID}

		if main || merged {
			name := canonicalName(propKey)
			if res.Mapping.Add(name, addr) {
				a.buildParams(name, p, mainCategory, res)
			} else {
				// First merge wins: a later duplicate is dropped with a
				// warning, never fatal.
				res.Warnings = append(res.Warnings, fmt.Sprintf("duplicate canonical name %q from service %q dropped", name, rs.key))
				a.logger.Warn("duplicate canonical name dropped", "name", name, "service", rs.key)
			}
		}

		res.Mapping.Add(rs.key+"_"+propKey, addr)
	}

	for _, act := range rs.service.Actions {
		actKey := act.Key()
		if actKey == "" {
			continue
		}
		res.Mapping.Add("a_l_"+rs.key+"_"+actKey, Address{SIID: rs.service.IID, AIID: act.IID})
	}
}

// buildParams applies the type-directed heuristics for one canonical
// property and stores the result under the given category.
func (a *Adapter) buildParams(name string, p Property, category string, res *Result) {
	if category == "" {
		return
	}

	params := a.paramsForProperty(name, p, res)
	if params == nil {
		return
	}

	set, ok := res.Params[category]
	if !ok {
		set = make(ParamSet)
		res.Params[category] = set
	}
	set[name] = params
}

// paramsForProperty builds the tagged metadata for one property, or nil
// when the property carries no usable constraint.
func (a *Adapter) paramsForProperty(name string, p Property, res *Result) *Params {
	base := Params{Readable: p.Readable(), Writable: p.Writable()}

	switch {
	case p.IsBool():
		base.Kind = ParamPower
		base.Power = &codec.PowerValues{On: true, Off: false}
		return &base

	case len(p.ValueList) > 0:
		base.Kind = ParamValueList
		base.List = codec.ValueList(p.ValueList)
		return &base

	case p.IsNumeric() && len(p.ValueRange) > 0:
		vr, ok := p.Range()
		if !ok {
			// Malformed range: omit from params, keep in mapping.
			res.Warnings = append(res.Warnings, fmt.Sprintf("property %q has malformed value-range, omitted from params", name))
			a.logger.Warn("malformed value-range omitted", "property", name, "range", p.ValueRange)
			return nil
		}
		if p.Unit == "percentage" && vr.Max > percentScale {
			base.Kind = ParamRatio
			base.Ratio = codec.Ratio(percentScale / vr.Max)
			return &base
		}
		base.Kind = ParamValueRange
		base.Range = &vr
		return &base

	default:
		return nil
	}
}

// postProcessCover applies cover-specific shaping: motor-control keyword
// classification and position range inheritance.
func (a *Adapter) postProcessCover(res *Result) {
	set, ok := res.Params["cover"]
	if !ok {
		return
	}

	if mc, ok := set["motor_control"]; ok && mc.Kind == ParamValueList {
		mc.Motor = classifyMotorValues(mc.List)
		if !mc.Motor.HasOpen || !mc.Motor.HasClose {
			res.Warnings = append(res.Warnings, "motor_control open/close classification incomplete")
		}
	}

	inheritRange(set, "target_position", "current_position")
	inheritRange(set, "current_position", "target_position")
}

// classifyMotorValues scans a motor-control value list by keyword.
// Best effort: unseen vendor strings may go unclassified.
func classifyMotorValues(list codec.ValueList) *MotorValues {
	mv := &MotorValues{}
	for _, item := range list {
		switch {
		case !mv.HasOpen && matchesAny(item.Description, motorOpenKeywords):
			mv.Open, mv.HasOpen = item.Value, true
		case !mv.HasClose && matchesAny(item.Description, motorCloseKeywords):
			mv.Close, mv.HasClose = item.Value, true
		case !mv.HasStop && matchesAny(item.Description, motorStopKeywords):
			mv.Stop, mv.HasStop = item.Value, true
		}
	}
	return mv
}

// inheritRange copies the range-bearing params of src to dst when dst is
// missing. A cover missing target_position inherits current_position's
// range, and vice versa.
func inheritRange(set ParamSet, dst, src string) {
	if _, exists := set[dst]; exists {
		return
	}
	srcParams, ok := set[src]
	if !ok || srcParams.Kind != ParamValueRange || srcParams.Range == nil {
		return
	}
	vr := *srcParams.Range
	set[dst] = &Params{
		Kind:     ParamValueRange,
		Range:    &vr,
		Readable: srcParams.Readable,
		Writable: srcParams.Writable,
	}
}
