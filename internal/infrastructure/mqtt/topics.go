package mqtt

import (
	"fmt"

	"github.com/nerrad567/cdp-core/internal/minor"
)

// TopicRoot is the first level of every cdp topic.
const TopicRoot = "cdp"

// Event kinds published under Topics.Event.
const (
	EventCreated = "created"
	EventRemoved = "removed"
)

// Topics builds topic names for one node. Every topic is scoped by node ID
// so several hosts can share a broker:
//
//	topics := mqtt.Topics{Node: "cdp-01"}
//	topics.DeviceState(3) // "cdp/cdp-01/device/3/state"
type Topics struct {
	Node string
}

// DeviceState is the retained state topic of one minor. It is cleared when
// the device is unpublished.
func (t Topics) DeviceState(m minor.Minor) string {
	return fmt.Sprintf("%s/%s/device/%d/state", TopicRoot, t.Node, m)
}

// AllDeviceStates matches the state topic of every minor on the node.
func (t Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/%s/device/+/state", TopicRoot, t.Node)
}

// Event is the non-retained topic for lifecycle events of the given kind.
func (t Topics) Event(kind string) string {
	return fmt.Sprintf("%s/%s/event/%s", TopicRoot, t.Node, kind)
}

// AllEvents matches every lifecycle event on the node.
func (t Topics) AllEvents() string {
	return fmt.Sprintf("%s/%s/event/+", TopicRoot, t.Node)
}

// SystemStatus is the retained online/offline topic, also used as the LWT.
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/%s/system/status", TopicRoot, t.Node)
}
