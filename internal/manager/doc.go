// Package manager composes configured devices into running
// synchronization sessions and bridges them onto MQTT and InfluxDB.
//
// For every configured device the manager fetches and adapts the
// capability spec, constructs the matching transport (local UDP client
// or the shared cloud client), starts an engine session, and mirrors
// the device into the registry. Cloud-mode sessions are registered with
// a single polling coordinator so one merged request serves all of them.
//
// # Topics
//
// Session events fan out to MQTT:
//
//	miotcore/state/{did}        retained snapshot JSON
//	miotcore/availability/{did} retained "online"/"offline"
//	miotcore/diagnostic/{did}   one-shot diagnostic hints
//
// Inbound commands arrive on miotcore/command/{did}:
//
//	{"properties": {"power": true, "speed": "High"}}
//	{"action": "a_l_fan_toggle", "args": []}
//
// Numeric snapshot values and availability transitions are additionally
// written to InfluxDB when a metrics writer is configured.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Start and Stop are
// idempotent in the usual lifecycle order.
package manager
