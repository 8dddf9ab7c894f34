package hive

import (
	"encoding/json"
	"errors"
	"flag"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

type testConnection struct {
	mutex  sync.Mutex
	frames []map[string]any
	broken bool
}

func newTestConnection() *testConnection {
	return &testConnection{}
}

func (self *testConnection) SendJson(message any) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.broken {
		return errors.New("connection closed")
	}

	frameBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	var frame map[string]any
	if err := json.Unmarshal(frameBytes, &frame); err != nil {
		return err
	}
	self.frames = append(self.frames, frame)
	return nil
}

func (self *testConnection) Break() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.broken = true
}

func (self *testConnection) Frames() []map[string]any {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	out := make([]map[string]any, len(self.frames))
	copy(out, self.frames)
	return out
}

func (self *testConnection) FramesOfType(messageType string) []map[string]any {
	var out []map[string]any
	for _, frame := range self.Frames() {
		if frame["type"] == messageType {
			out = append(out, frame)
		}
	}
	return out
}

func TestPresenceInvariant(t *testing.T) {
	registry := NewPresenceRegistry()

	a := NewId()
	b := NewId()

	aConn1 := newTestConnection()
	aConn2 := newTestConnection()
	bConn := newTestConnection()

	assert.Equal(t, len(registry.ConnectedUserIds()), 0)

	registry.Register(a, aConn1)
	registry.Register(a, aConn2)
	registry.Register(b, bConn)

	userIds := registry.ConnectedUserIds()
	assert.Equal(t, len(userIds), 2)
	assert.Equal(t, registry.IsOnline(a), true)
	assert.Equal(t, registry.IsOnline(b), true)

	registry.Unregister(a, aConn1)
	assert.Equal(t, registry.IsOnline(a), true)

	registry.Unregister(a, aConn2)
	assert.Equal(t, registry.IsOnline(a), false)
	assert.Equal(t, len(registry.ConnectedUserIds()), 1)

	// unregistering an unknown connection is a no-op
	registry.Unregister(a, aConn2)
	registry.Unregister(NewId(), aConn1)
	assert.Equal(t, len(registry.ConnectedUserIds()), 1)

	registry.Unregister(b, bConn)
	assert.Equal(t, len(registry.ConnectedUserIds()), 0)
}

func TestPresenceOutbox(t *testing.T) {
	registry := NewPresenceRegistry()

	a := NewId()
	aConn1 := newTestConnection()
	aConn2 := newTestConnection()

	registry.Register(a, aConn1)
	events := registry.DrainEvents()
	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0], PresenceEvent{UserId: a, Online: true})

	// a second connection for the same user is not a presence change
	registry.Register(a, aConn2)
	assert.Equal(t, len(registry.DrainEvents()), 0)

	registry.Unregister(a, aConn1)
	assert.Equal(t, len(registry.DrainEvents()), 0)

	registry.Unregister(a, aConn2)
	events = registry.DrainEvents()
	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0], PresenceEvent{UserId: a, Online: false})

	// drained events do not reappear
	assert.Equal(t, len(registry.DrainEvents()), 0)
}

func TestSelfHealingDelivery(t *testing.T) {
	registry := NewPresenceRegistry()

	a := NewId()
	aConn := newTestConnection()
	registry.Register(a, aConn)
	registry.DrainEvents()

	aConn.Break()

	// sending to a user whose only connection is broken removes the user
	// without raising
	registry.SendToUser(a, NewPong(nil))

	assert.Equal(t, registry.IsOnline(a), false)
	assert.Equal(t, len(registry.ConnectedUserIds()), 0)

	events := registry.DrainEvents()
	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0], PresenceEvent{UserId: a, Online: false})
}

func TestBroadcastPrunesBrokenConnections(t *testing.T) {
	registry := NewPresenceRegistry()

	a := NewId()
	b := NewId()
	aConn := newTestConnection()
	bConn := newTestConnection()
	registry.Register(a, aConn)
	registry.Register(b, bConn)
	registry.DrainEvents()

	bConn.Break()
	registry.Broadcast(NewChatBroadcast("hello", a))

	assert.Equal(t, len(aConn.FramesOfType(MessageTypeChat)), 1)
	assert.Equal(t, registry.IsOnline(a), true)
	assert.Equal(t, registry.IsOnline(b), false)
}

func TestBroadcastFanOut(t *testing.T) {
	registry := NewPresenceRegistry()

	a := NewId()
	connections := []*testConnection{}
	// a has two connections, three other users have one each
	userIds := []Id{a, a, NewId(), NewId(), NewId()}
	for _, userId := range userIds {
		connection := newTestConnection()
		registry.Register(userId, connection)
		connections = append(connections, connection)
	}

	registry.Broadcast(NewChatBroadcast("hello", a))

	// every connection, including the sender's own, receives one copy
	for _, connection := range connections {
		frames := connection.FramesOfType(MessageTypeChat)
		assert.Equal(t, len(frames), 1)
		assert.Equal(t, frames[0]["message"], "hello")
		assert.Equal(t, frames[0]["user_id"], a.String())
	}
}

func TestSendToUserFansOutToAllConnections(t *testing.T) {
	registry := NewPresenceRegistry()

	a := NewId()
	b := NewId()
	aConn1 := newTestConnection()
	aConn2 := newTestConnection()
	bConn := newTestConnection()
	registry.Register(a, aConn1)
	registry.Register(a, aConn2)
	registry.Register(b, bConn)

	registry.SendToUser(a, NewPong(float64(7)))

	assert.Equal(t, len(aConn1.FramesOfType(MessageTypePong)), 1)
	assert.Equal(t, len(aConn2.FramesOfType(MessageTypePong)), 1)
	assert.Equal(t, len(bConn.Frames()), 0)
}
