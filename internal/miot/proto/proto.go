// Package proto defines the wire-level request/result shapes and result
// codes shared by the local and cloud transports and the synchronization
// engine.
//
// Both transports speak the same logical protocol: batched property
// get/set plus action invocation, with per-item result codes. Codes are
// classified individually by the engine; a non-zero code never aborts a
// whole batch.
package proto

// Per-item result codes returned by devices and the vendor cloud.
const (
	// CodeOK indicates the item succeeded.
	CodeOK = 0

	// CodeAccepted is returned by the vendor cloud for writes that were
	// accepted but are still propagating to the device asynchronously.
	CodeAccepted = 1

	// CodeNotSupportedLocal indicates the property is not supported over
	// the local transport. Per-property, not device-wide.
	CodeNotSupportedLocal = -4004

	// CodeVendorNotLocal is a vendor code meaning the operation is not
	// available locally and cloud access is required.
	CodeVendorNotLocal = 9999

	// CodeCloudOffline indicates the entire device is offline at the
	// vendor cloud.
	CodeCloudOffline = -704042011
)

// PropertyRequest addresses one property for a batched read.
type PropertyRequest struct {
	DID  string `json:"did"`
	SIID int    `json:"siid"`
	PIID int    `json:"piid"`
}

// PropertyValue is one item of a batched read or write result.
// Value is nil for write results and failed reads.
type PropertyValue struct {
	DID   string `json:"did"`
	SIID  int    `json:"siid"`
	PIID  int    `json:"piid"`
	Code  int    `json:"code"`
	Value any    `json:"value,omitempty"`
}

// SetRequest addresses one property for a batched write.
type SetRequest struct {
	DID   string `json:"did"`
	SIID  int    `json:"siid"`
	PIID  int    `json:"piid"`
	Value any    `json:"value"`
}

// ActionRequest invokes one action with positional input arguments.
type ActionRequest struct {
	DID  string `json:"did"`
	SIID int    `json:"siid"`
	AIID int    `json:"aiid"`
	In   []any  `json:"in"`
}

// ActionResult carries the action's result code and output arguments.
type ActionResult struct {
	Code int   `json:"code"`
	Out  []any `json:"out,omitempty"`
}
