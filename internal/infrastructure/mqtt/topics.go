package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the PowerWatch MQTT surface.
//
// All topics fall under the flat scheme: powerwatch/{category}/{name}
const (
	// TopicPrefix is the base for all PowerWatch topics.
	TopicPrefix = "powerwatch"

	// TopicPrefixSystem is the base for daemon lifecycle topics.
	TopicPrefixSystem = "powerwatch/system"
)

// Topics provides builders for PowerWatch MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	statusTopic := topics.GroupStatus("lan")
//	// Returns: "powerwatch/group/lan/status"
type Topics struct{}

// =============================================================================
// Monitoring Topics
// =============================================================================

// GroupStatus returns the retained status topic for a monitoring group.
//
// Example: powerwatch/group/lan/status
func (Topics) GroupStatus(group string) string {
	return fmt.Sprintf("%s/group/%s/status", TopicPrefix, group)
}

// OutletState returns the retained state topic for a power outlet.
//
// Example: powerwatch/outlet/rack-a/state
func (Topics) OutletState(outlet string) string {
	return fmt.Sprintf("%s/outlet/%s/state", TopicPrefix, outlet)
}

// Event returns the topic for monitoring events of a given type.
//
// Example: powerwatch/event/power_cycle
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// Command returns the inbound manual control topic for a group.
//
// Example: powerwatch/command/lan
func (Topics) Command(group string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, group)
}

// CommandAck returns the topic for manual control acknowledgements.
//
// Example: powerwatch/ack/lan
func (Topics) CommandAck(group string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, group)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the daemon status topic (online/offline, LWT).
//
// Example: powerwatch/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemInfo returns the host information topic.
//
// Example: powerwatch/system/info
func (Topics) SystemInfo() string {
	return fmt.Sprintf("%s/info", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCommands returns a pattern matching manual control commands for
// every group.
//
// Pattern: powerwatch/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllGroupStatuses returns a pattern matching all group status topics.
//
// Pattern: powerwatch/group/+/status
func (Topics) AllGroupStatuses() string {
	return fmt.Sprintf("%s/group/+/status", TopicPrefix)
}

// AllEvents returns a pattern matching all monitoring events.
//
// Pattern: powerwatch/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}

// AllTopics returns a pattern matching every PowerWatch topic.
// Use with caution - this receives ALL traffic.
//
// Pattern: powerwatch/#
func (Topics) AllTopics() string {
	return "powerwatch/#"
}

// CommandGroup extracts the group name from a manual control topic.
// Returns "" if the topic is not a command topic.
func CommandGroup(topic string) string {
	const prefix = TopicPrefix + "/command/"
	group, ok := strings.CutPrefix(topic, prefix)
	if !ok || group == "" || strings.Contains(group, "/") {
		return ""
	}
	return group
}
