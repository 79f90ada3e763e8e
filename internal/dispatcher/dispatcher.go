package dispatcher

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sensorgrid/sensorgrid-go/internal/permission"
)

// Transport publishes a serialized payload to one topic. Implementations are
// expected to bound their own publish timeouts.
type Transport interface {
	Publish(topic string, payload []byte) error
}

// Dispatcher builds payloads from domain mutations and publishes them to the
// correct topic set. Publishes to independent topics are isolated: a failure
// on one topic never blocks the others. Delivery is at-most-once and
// unordered across topics.
type Dispatcher struct {
	transport Transport
	log       *zap.Logger
}

// New builds a dispatcher over the given transport.
func New(transport Transport, log *zap.Logger) *Dispatcher {
	return &Dispatcher{transport: transport, log: log}
}

// EntityTopic is the primary topic for events on one entity.
func EntityTopic(entityType, entityID string) string {
	return entityType + "." + entityID + ".events"
}

// OwnerTopic is the secondary topic delivering every event on a user's
// entities to that user.
func OwnerTopic(ownerID string) string {
	return "user." + ownerID
}

// DeviceStreamsTopic carries data pushed to any stream of a device.
func DeviceStreamsTopic(deviceID string) string {
	return "device." + deviceID + ".streams"
}

// DeviceActionsTopic carries actuation status changes of a device.
func DeviceActionsTopic(deviceID string) string {
	return "device." + deviceID + ".actions"
}

// TreeTopic carries group-level rebroadcasts for a resolvable node path.
func TreeTopic(path string) string {
	return "tree." + path
}

func (d *Dispatcher) publish(topic string, payload Payload) {
	raw, err := payload.Marshal()
	if err != nil {
		d.log.Error("payload marshal failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := d.transport.Publish(topic, raw); err != nil {
		d.log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// NotifyEntityEvent publishes a mutation of any entity to its own topic and,
// independently, to its owner's topic.
func (d *Dispatcher) NotifyEntityEvent(op permission.Permission, entity Entity) {
	payload := Payload{
		Type:     entity.Type,
		Op:       op.String(),
		UserID:   entity.OwnerID,
		EntityID: entity.ID,
	}
	d.publish(EntityTopic(entity.Type, entity.ID), payload)
	d.publish(OwnerTopic(entity.OwnerID), payload)
}

// NotifyDataEvent publishes a record set pushed to a stream, on the owning
// device's streams topic and the owner topic.
func (d *Dispatcher) NotifyDataEvent(stream Stream, records json.RawMessage) {
	payload := Payload{
		Type:     PayloadData,
		Op:       permission.Push.String(),
		UserID:   stream.OwnerID,
		DeviceID: stream.DeviceID,
		StreamID: stream.Name,
		Body:     records,
	}
	d.publish(DeviceStreamsTopic(stream.DeviceID), payload)
	d.publish(OwnerTopic(stream.OwnerID), payload)
}

// NotifyActionEvent publishes an actuation status change on the owning
// device's actions topic. status may be nil, meaning the action was triggered
// with no explicit payload.
func (d *Dispatcher) NotifyActionEvent(action Action, status *string) {
	payload := Payload{
		Type:     PayloadAction,
		Op:       permission.Execute.String(),
		UserID:   action.OwnerID,
		DeviceID: action.DeviceID,
		ActionID: action.Name,
	}
	if status != nil {
		body, err := json.Marshal(*status)
		if err == nil {
			payload.Body = body
		}
	}
	d.publish(DeviceActionsTopic(action.DeviceID), payload)
}

// NotifyTreeEvent rebroadcasts an inner payload under the node's tree topic.
// A node without a resolvable path is a no-op: tree events are best-effort
// broadcast, not delivery-guaranteed.
func (d *Dispatcher) NotifyTreeEvent(node TreeNode, inner Payload) {
	if node.Path == "" {
		return
	}
	d.publish(TreeTopic(node.Path), inner)
}
