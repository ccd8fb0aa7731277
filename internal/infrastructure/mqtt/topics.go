package mqtt

import "fmt"

// Topic prefixes for the MIoT Core MQTT hierarchy.
//
// All device topics use the flat scheme: miotcore/{kind}/{did}
const (
	// TopicPrefix is the base for all topics.
	TopicPrefix = "miotcore"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "miotcore/system"
)

// Topics provides builders for MIoT Core MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("712345678")
//	// Returns: "miotcore/state/712345678"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceState returns the topic for decoded device state snapshots.
//
// Example: miotcore/state/712345678
func (Topics) DeviceState(did string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, did)
}

// DeviceCommand returns the topic external integrations publish
// property writes and action calls to.
//
// Example: miotcore/command/712345678
func (Topics) DeviceCommand(did string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, did)
}

// DeviceAvailability returns the topic for device online/offline status.
//
// Example: miotcore/availability/712345678
func (Topics) DeviceAvailability(did string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, did)
}

// DeviceDiagnostic returns the topic for one-shot device diagnostics,
// such as a device that rejects local access and needs the cloud.
//
// Example: miotcore/diagnostic/712345678
func (Topics) DeviceDiagnostic(did string) string {
	return fmt.Sprintf("%s/diagnostic/%s", TopicPrefix, did)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the service status topic.
//
// Example: miotcore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceCommands returns a pattern matching command topics for every
// device.
//
// Pattern: miotcore/command/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching all state snapshots.
//
// Pattern: miotcore/state/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllDeviceAvailability returns a pattern matching all availability topics.
//
// Pattern: miotcore/availability/+
func (Topics) AllDeviceAvailability() string {
	return fmt.Sprintf("%s/availability/+", TopicPrefix)
}

// AllTopics returns a pattern matching all MIoT Core topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: miotcore/#
func (Topics) AllTopics() string {
	return "miotcore/#"
}
