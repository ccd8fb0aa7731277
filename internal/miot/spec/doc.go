// Package spec models MIoT capability specifications and adapts them into
// the stable property mapping and control metadata the synchronization
// engine operates on.
//
// A capability spec is a tree of services, each carrying properties and
// actions addressed by integer identifiers (siid/piid/aiid). The adapter
// runs once per device at setup time and produces:
//
//   - PropertyMapping: logical name -> {siid, piid} (or {siid, aiid})
//   - ControlParams:   device category -> logical name -> control metadata
//   - inferred device categories for the entity layer
//
// Specs are fetched from the vendor's public spec service and cached in
// SQLite so devices can be set up while offline.
package spec
