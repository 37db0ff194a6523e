package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic reolinkd publishes or consumes.
const TopicPrefix = "reolink"

// Topics builds reolinkd topic names. The layout is flat:
//
//	reolink/state/{device}/{logicalId}    retained command state
//	reolink/command/{device}/{logicalId}  action requests
//	reolink/ack/{device}/{logicalId}      action outcomes
//	reolink/event/{type}                  lifecycle events
//	reolink/health                        periodic bridge health
//	reolink/system/status                 online/offline (LWT)
type Topics struct{}

// State returns the retained state topic of one command.
func (Topics) State(deviceID, logicalID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, deviceID, logicalID)
}

// Command returns the topic actions are requested on.
func (Topics) Command(deviceID, logicalID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, deviceID, logicalID)
}

// Ack returns the topic action outcomes are published on.
func (Topics) Ack(deviceID, logicalID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, deviceID, logicalID)
}

// Event returns the topic for a lifecycle event such as "device_provisioned".
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

func (Topics) Health() string {
	return TopicPrefix + "/health"
}

func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllCommands matches every command topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+/+"
}

// AllStates matches every state topic.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+/+"
}

// ParseCommand extracts the device ID and logical ID from a command topic.
func (Topics) ParseCommand(topic string) (deviceID, logicalID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
