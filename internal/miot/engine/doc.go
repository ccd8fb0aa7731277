// Package engine synchronizes one device's property mapping against one
// transport.
//
// A Session owns the polling cadence, request batching, write debounce,
// and per-item result code classification for a single device. Decoded
// state is published as immutable snapshots to any number of
// subscribers; a subscriber is a view over the shared snapshot, never a
// second mutator.
//
// Cloud-backed sessions under one account share a Coordinator that
// merges their fixed property lists into one batched request per tick
// and fans results back out by device id.
//
// Local, recoverable conditions (a dropped property, a single timeout)
// are absorbed here and never reach the entity layer as errors;
// device-wide conditions surface as availability changes and one-shot
// diagnostics on the event stream.
package engine
