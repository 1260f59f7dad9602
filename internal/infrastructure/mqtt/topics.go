package mqtt

import "fmt"

// Topic prefixes for the Hearth MQTT namespace.
//
// Device events arrive on hearth/event/{device_id}; commands go out on
// hearth/command/{device_id}; device state snapshots are retained on
// hearth/state/{device_id}.
const (
	// TopicPrefix is the base for all Hearth topics.
	TopicPrefix = "hearth"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "hearth/system"
)

// Topics provides builders for Hearth MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommand("light-living-main")
//	// Returns: "hearth/command/light-living-main"
type Topics struct{}

// DeviceEvent returns the topic device state-change events are published on.
//
// Example: hearth/event/light-living-main
func (Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, deviceID)
}

// DeviceCommand returns the topic for commands to a device.
//
// Example: hearth/command/light-living-main
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceState returns the topic for retained device state snapshots.
//
// Example: hearth/state/light-living-main
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// RuleFired returns the topic for rule execution announcements.
//
// Example: hearth/rule/rule-abc123/fired
func (Topics) RuleFired(ruleID string) string {
	return fmt.Sprintf("%s/rule/%s/fired", TopicPrefix, ruleID)
}

// SystemStatus returns the system status topic.
//
// Example: hearth/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceEvents returns a pattern matching every device event.
//
// Pattern: hearth/event/+
func (Topics) AllDeviceEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching every retained device state.
//
// Pattern: hearth/state/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Hearth topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: hearth/#
func (Topics) AllTopics() string {
	return "hearth/#"
}
