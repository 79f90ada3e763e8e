// Package dispatcher turns domain mutations into typed payloads and publishes
// them on the message bus. Topics use the canonical dot grammar
// <entityType>.<entityId>[.<subtopic>], the same grammar the broker
// gatekeeper authorizes against.
package dispatcher

import (
	"encoding/json"
)

// Payload types, dispatched on by consumers before parsing entity fields.
const (
	PayloadDevice = "device"
	PayloadStream = "stream"
	PayloadAction = "action"
	PayloadData   = "data"
	PayloadUser   = "user"
)

// Payload is the wire envelope for every dispatched event. Entity-specific
// fields are populated per type; a payload is built fresh per event and never
// mutated after publish.
type Payload struct {
	Type   string `json:"type"`
	Op     string `json:"op"`
	UserID string `json:"userId"`

	DeviceID string          `json:"deviceId,omitempty"`
	StreamID string          `json:"streamId,omitempty"`
	ActionID string          `json:"actionId,omitempty"`
	EntityID string          `json:"entityId,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// Marshal serializes the payload for publishing.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Entity is the dispatcher's view of a mutated domain entity.
type Entity struct {
	Type    string
	ID      string
	OwnerID string
}

// Stream identifies a device data stream.
type Stream struct {
	Name     string
	DeviceID string
	OwnerID  string
}

// Action identifies a device actuation endpoint.
type Action struct {
	Name     string
	DeviceID string
	OwnerID  string
}

// TreeNode identifies a group-tree node. Path is empty while the node is
// detached or still being linked.
type TreeNode struct {
	ID      string
	Path    string
	OwnerID string
}
