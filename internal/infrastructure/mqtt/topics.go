package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the SenseME bridge uses.
//
// Hierarchy:
//
//	senseme/state/{fan_id}/{attribute}   retained canonical value
//	senseme/event/{fan_id}               change notifications (not retained)
//	senseme/command/{fan_id}             commands in
//	senseme/ack/{fan_id}                 command acknowledgements out
//	senseme/health                       bridge health (retained, LWT)
//	senseme/status                       client online/offline (retained, LWT)
const TopicPrefix = "senseme"

// Topics provides builders for SenseME bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.State("bedroom", "fan_speed")
//	// Returns: "senseme/state/bedroom/fan_speed"
type Topics struct{}

// State returns the retained topic holding one attribute of a fan.
func (Topics) State(fanID, attribute string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, fanID, attribute)
}

// Event returns the topic carrying change notifications for a fan.
func (Topics) Event(fanID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, fanID)
}

// Command returns the topic a fan's commands arrive on.
func (Topics) Command(fanID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, fanID)
}

// Ack returns the topic command acknowledgements are published on.
func (Topics) Ack(fanID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, fanID)
}

// Health returns the bridge health topic.
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// Status returns the client online/offline topic.
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// AllCommands returns the wildcard for every fan's command topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

// AllStates returns the wildcard for every retained state topic.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+/+"
}

// AllEvents returns the wildcard for every fan's event topic.
func (Topics) AllEvents() string {
	return TopicPrefix + "/event/+"
}

// AllTopics returns the wildcard for everything under the prefix.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// FanIDFromTopic extracts the fan ID from a per-fan topic such as
// "senseme/command/bedroom". ok is false for topics outside the scheme.
func FanIDFromTopic(topic string) (fanID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != TopicPrefix || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
