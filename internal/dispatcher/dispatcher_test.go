package dispatcher

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sensorgrid/sensorgrid-go/internal/permission"
)

type fakeTransport struct {
	mu        sync.Mutex
	published map[string][][]byte
	failTopic string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{published: make(map[string][][]byte)}
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic == f.failTopic {
		return errors.New("broker unreachable")
	}
	f.published[topic] = append(f.published[topic], payload)
	return nil
}

func (f *fakeTransport) decode(t *testing.T, topic string) Payload {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.published[topic], "nothing published on %s", topic)
	var p Payload
	require.NoError(t, json.Unmarshal(f.published[topic][0], &p))
	return p
}

func TestNotifyEntityEventPublishesEntityAndOwnerTopics(t *testing.T) {
	transport := newFakeTransport()
	d := New(transport, zap.NewNop())

	d.NotifyEntityEvent(permission.Update, Entity{Type: "device", ID: "dev1", OwnerID: "u1"})

	entity := transport.decode(t, "device.dev1.events")
	assert.Equal(t, "device", entity.Type)
	assert.Equal(t, "update", entity.Op)
	assert.Equal(t, "u1", entity.UserID)
	assert.Equal(t, "dev1", entity.EntityID)

	owner := transport.decode(t, "user.u1")
	assert.Equal(t, entity, owner)
}

func TestNotifyEntityEventIsolatesTopicFailures(t *testing.T) {
	transport := newFakeTransport()
	transport.failTopic = "device.dev1.events"
	d := New(transport, zap.NewNop())

	d.NotifyEntityEvent(permission.Delete, Entity{Type: "device", ID: "dev1", OwnerID: "u1"})

	// the owner topic still receives the event
	owner := transport.decode(t, "user.u1")
	assert.Equal(t, "delete", owner.Op)
}

func TestNotifyDataEvent(t *testing.T) {
	transport := newFakeTransport()
	d := New(transport, zap.NewNop())

	records := json.RawMessage(`[{"temperature":21.5}]`)
	d.NotifyDataEvent(Stream{Name: "ambient", DeviceID: "dev1", OwnerID: "u1"}, records)

	p := transport.decode(t, "device.dev1.streams")
	assert.Equal(t, PayloadData, p.Type)
	assert.Equal(t, "push", p.Op)
	assert.Equal(t, "ambient", p.StreamID)
	assert.Equal(t, "dev1", p.DeviceID)
	assert.JSONEq(t, string(records), string(p.Body))

	ownerCopy := transport.decode(t, "user.u1")
	assert.Equal(t, p, ownerCopy)
}

func TestNotifyActionEvent(t *testing.T) {
	transport := newFakeTransport()
	d := New(transport, zap.NewNop())

	status := "running"
	d.NotifyActionEvent(Action{Name: "reboot", DeviceID: "dev1", OwnerID: "u1"}, &status)

	p := transport.decode(t, "device.dev1.actions")
	assert.Equal(t, PayloadAction, p.Type)
	assert.Equal(t, "execute", p.Op)
	assert.Equal(t, "reboot", p.ActionID)
	assert.JSONEq(t, `"running"`, string(p.Body))
}

func TestNotifyActionEventNilStatus(t *testing.T) {
	transport := newFakeTransport()
	d := New(transport, zap.NewNop())

	d.NotifyActionEvent(Action{Name: "reboot", DeviceID: "dev1", OwnerID: "u1"}, nil)

	p := transport.decode(t, "device.dev1.actions")
	assert.Empty(t, p.Body, "triggered with no explicit payload")
}

func TestNotifyTreeEvent(t *testing.T) {
	transport := newFakeTransport()
	d := New(transport, zap.NewNop())

	inner := Payload{Type: PayloadDevice, Op: "update", UserID: "u1", EntityID: "dev1"}
	d.NotifyTreeEvent(TreeNode{ID: "n1", Path: "plant1/line2", OwnerID: "u1"}, inner)

	p := transport.decode(t, "tree.plant1/line2")
	assert.Equal(t, inner, p)
}

func TestNotifyTreeEventUnresolvedPathIsNoop(t *testing.T) {
	transport := newFakeTransport()
	d := New(transport, zap.NewNop())

	d.NotifyTreeEvent(TreeNode{ID: "n1", OwnerID: "u1"}, Payload{Type: PayloadDevice})

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Empty(t, transport.published)
}
