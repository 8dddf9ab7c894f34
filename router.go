package hive

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"
)

type RouterSettings struct {
	// bound on store lookups made from the realtime path,
	// so a slow store cannot stall a connection loop
	StoreCallTimeout time.Duration
}

func DefaultRouterSettings() *RouterSettings {
	return &RouterSettings{
		StoreCallTimeout: 5 * time.Second,
	}
}

// Router is the single entry point for inbound realtime messages.
// It demultiplexes by message type and produces zero or more outbound
// messages addressed through the presence registry.
//
// Protocol errors never close the connection. They are answered with an
// `error` reply to the sender.
type Router struct {
	ctx context.Context

	registry *PresenceRegistry
	store    TaskStore

	settings *RouterSettings
}

func NewRouterWithDefaults(ctx context.Context, registry *PresenceRegistry, store TaskStore) *Router {
	return NewRouter(ctx, registry, store, DefaultRouterSettings())
}

func NewRouter(ctx context.Context, registry *PresenceRegistry, store TaskStore, settings *RouterSettings) *Router {
	return &Router{
		ctx:      ctx,
		registry: registry,
		store:    store,
		settings: settings,
	}
}

func (self *Router) Registry() *PresenceRegistry {
	return self.registry
}

// HandleInbound dispatches one frame from one open connection.
// Frames from the same connection must be handled strictly in arrival order.
func (self *Router) HandleInbound(senderId Id, frame []byte) {
	message, err := DecodeInbound(frame)
	if err != nil {
		self.registry.SendToUser(senderId, NewErrorReply(err.Error()))
		return
	}

	switch v := message.(type) {
	case *InboundChat:
		glog.V(2).Infof("[rt]chat %s\n", senderId)
		self.registry.Broadcast(NewChatBroadcast(v.Message, senderId))
	case *InboundTaskChat:
		self.handleTaskChat(senderId, v)
	case *InboundPing:
		self.registry.SendToUser(senderId, NewPong(v.Timestamp))
	}
}

func (self *Router) handleTaskChat(senderId Id, message *InboundTaskChat) {
	storeCtx, cancel := context.WithTimeout(self.ctx, self.settings.StoreCallTimeout)
	defer cancel()

	task, err := self.store.GetTask(storeCtx, message.TaskId)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			self.registry.SendToUser(senderId, NewErrorReply("Task not found"))
		} else {
			glog.Infof("[rt]task chat %s lookup error = %s\n", message.TaskId, err)
			self.registry.SendToUser(senderId, NewErrorReply("Task lookup failed"))
		}
		return
	}

	if !CanAccessTaskChat(task, senderId) {
		self.registry.SendToUser(senderId, NewErrorReply("Permission denied: not a task participant"))
		return
	}

	sender, err := self.store.GetUser(storeCtx, senderId)
	if err != nil {
		glog.Infof("[rt]task chat sender %s lookup error = %s\n", senderId, err)
		self.registry.SendToUser(senderId, NewErrorReply("Sender lookup failed"))
		return
	}

	if err := self.store.CreateTaskChatMessage(storeCtx, task.Id, senderId, message.Message); err != nil {
		glog.Infof("[rt]task chat %s persist error = %s\n", task.Id, err)
		self.registry.SendToUser(senderId, NewErrorReply("Message could not be saved"))
		return
	}

	delivery := &TaskChatDelivery{
		Type:        MessageTypeTaskChat,
		TaskId:      task.Id,
		Message:     message.Message,
		SenderId:    senderId,
		SenderEmail: sender.Email,
		SenderRole:  sender.Role,
	}
	self.registry.SendToUsers(TaskParticipants(task), delivery)
}

// UpdateTaskStatus moves a task's status on behalf of an actor and
// broadcasts the change to all connections. The actor must be the task's
// owner or assignee, otherwise `ErrPermissionDenied` is returned and
// nothing changes.
func (self *Router) UpdateTaskStatus(ctx context.Context, taskId Id, actorId Id, newStatus string) (*Task, error) {
	task, err := self.store.GetTask(ctx, taskId)
	if err != nil {
		return nil, err
	}
	if !CanUpdateStatus(task, actorId) {
		return nil, ErrPermissionDenied
	}

	if err := self.store.SetTaskStatus(ctx, taskId, newStatus); err != nil {
		return nil, err
	}
	task.Status = newStatus

	// best-effort. A broadcast problem must not fail the update
	self.registry.Broadcast(&TaskStatusUpdate{
		Type:       MessageTypeTaskStatusUpdate,
		TaskId:     task.Id,
		NewStatus:  newStatus,
		AssigneeId: task.AssigneeId,
	})
	return task, nil
}

// AssignTask sets a task's assignee on behalf of an actor and broadcasts
// the change. Only the task's owner can assign.
func (self *Router) AssignTask(ctx context.Context, taskId Id, actorId Id, assigneeId *Id) (*Task, error) {
	task, err := self.store.GetTask(ctx, taskId)
	if err != nil {
		return nil, err
	}
	if !CanAssign(task, actorId) {
		return nil, ErrPermissionDenied
	}

	if err := self.store.SetTaskAssignee(ctx, taskId, assigneeId); err != nil {
		return nil, err
	}
	task.AssigneeId = assigneeId

	self.registry.Broadcast(&TaskAssignmentUpdate{
		Type:       MessageTypeTaskAssignmentUpdate,
		TaskId:     task.Id,
		AssigneeId: assigneeId,
		AssignedBy: actorId,
	})
	return task, nil
}
