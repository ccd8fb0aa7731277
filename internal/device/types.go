package device

import (
	"fmt"
	"strings"
	"time"
)

// Record is the persisted registry entry for a configured device.
//
// The registry mirrors the configured device list with the metadata
// resolved during adaptation (category from the capability spec URN,
// effective control mode). It exists for inspection and API listings;
// live state lives in the synchronization sessions, not here.
type Record struct {
	// DID is the numeric device identifier assigned by the vendor cloud.
	DID string `json:"did"`

	// Name is the human-readable name from configuration. May be empty.
	Name string `json:"name,omitempty"`

	// Model is the vendor model string, e.g. "zhimi.fan.za5".
	Model string `json:"model"`

	// Category is the device category resolved from the capability spec
	// type URN, e.g. "fan" or "air-purifier".
	Category string `json:"category,omitempty"`

	// Mode is the control path for this device: "local" or "cloud".
	Mode string `json:"mode"`

	// UpdatedAt is when this record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the record has the fields required for persistence.
func (r *Record) Validate() error {
	if r.DID == "" {
		return fmt.Errorf("%w: did is required", ErrInvalidRecord)
	}
	if r.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidRecord)
	}
	// Model strings are dot-separated vendor.type.version identifiers.
	if strings.Count(r.Model, ".") < 2 {
		return fmt.Errorf("%w: model %q is not a vendor.type.version identifier", ErrInvalidRecord, r.Model)
	}
	switch r.Mode {
	case "local", "cloud":
	default:
		return fmt.Errorf("%w: mode %q must be local or cloud", ErrInvalidRecord, r.Mode)
	}
	return nil
}
