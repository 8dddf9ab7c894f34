package hive

import (
	"sync"

	"golang.org/x/exp/maps"

	"github.com/golang/glog"
)

// a live realtime channel to one client. The registry owns the handle from
// register to unregister and only ever calls SendJson on it.
type Connection interface {
	SendJson(message any) error
}

// a pending online/offline store write. The registry never talks to the
// store itself. Callers drain the outbox and execute the writes best-effort,
// so a slow or failing store can never block delivery.
type PresenceEvent struct {
	UserId Id
	Online bool
}

// PresenceRegistry tracks which users are reachable right now and through
// which connections. A user is online iff they have at least one connection.
//
// One registry per process, passed to every connection handler.
type PresenceRegistry struct {
	mutex sync.Mutex

	// user id -> connection set
	activeConnections map[Id]map[Connection]bool

	pendingEvents []PresenceEvent
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		activeConnections: map[Id]map[Connection]bool{},
	}
}

func (self *PresenceRegistry) Register(userId Id, connection Connection) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	connections, ok := self.activeConnections[userId]
	if !ok {
		connections = map[Connection]bool{}
		self.activeConnections[userId] = connections
		self.pendingEvents = append(self.pendingEvents, PresenceEvent{
			UserId: userId,
			Online: true,
		})
	}
	connections[connection] = true
	glog.V(1).Infof("[pr]register %s (%d)\n", userId, len(connections))
}

func (self *PresenceRegistry) Unregister(userId Id, connection Connection) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.unregister(userId, connection)
}

// must be called with the mutex held
func (self *PresenceRegistry) unregister(userId Id, connection Connection) {
	connections, ok := self.activeConnections[userId]
	if !ok {
		return
	}
	if _, ok := connections[connection]; !ok {
		return
	}
	delete(connections, connection)
	glog.V(1).Infof("[pr]unregister %s (%d)\n", userId, len(connections))
	if len(connections) == 0 {
		delete(self.activeConnections, userId)
		self.pendingEvents = append(self.pendingEvents, PresenceEvent{
			UserId: userId,
			Online: false,
		})
	}
}

// SendToUser delivers one message to every connection of one user.
// Delivery is best-effort. A connection that fails to send is unregistered
// in place, so a dead socket removes itself the next time anyone uses it.
func (self *PresenceRegistry) SendToUser(userId Id, message any) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.sendToUser(userId, message)
}

// must be called with the mutex held
func (self *PresenceRegistry) sendToUser(userId Id, message any) {
	connections, ok := self.activeConnections[userId]
	if !ok {
		return
	}
	for _, connection := range maps.Keys(connections) {
		if err := connection.SendJson(message); err != nil {
			glog.Infof("[pr]send %s error = %s\n", userId, err)
			self.unregister(userId, connection)
		} else {
			glog.V(2).Infof("[pr]%s->\n", userId)
		}
	}
}

// Broadcast delivers one message to every connection of every registered
// user, including the sender's own connections. Same failure handling as
// `SendToUser`. Delivery order across recipients is not guaranteed.
func (self *PresenceRegistry) Broadcast(message any) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for _, userId := range maps.Keys(self.activeConnections) {
		self.sendToUser(userId, message)
	}
}

func (self *PresenceRegistry) SendToUsers(userIds []Id, message any) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for _, userId := range userIds {
		self.sendToUser(userId, message)
	}
}

func (self *PresenceRegistry) ConnectedUserIds() []Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return maps.Keys(self.activeConnections)
}

func (self *PresenceRegistry) IsOnline(userId Id) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	_, ok := self.activeConnections[userId]
	return ok
}

// DrainEvents removes and returns the pending online/offline intents in the
// order they were recorded. The caller executes them against the store and
// swallows failures.
func (self *PresenceRegistry) DrainEvents() []PresenceEvent {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	events := self.pendingEvents
	self.pendingEvents = nil
	return events
}
