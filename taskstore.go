package hive

import (
	"context"
	"errors"
)

// boundary to the task/project store. The realtime layer only reads and
// writes plain records through this interface. The store provides its own
// consistency guarantees.

var ErrNotFound = errors.New("not found")
var ErrPermissionDenied = errors.New("permission denied")

type User struct {
	Id       Id     `json:"id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsOnline bool   `json:"is_online"`
}

type Task struct {
	Id          Id     `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	OwnerId     Id     `json:"owner_id"`
	AssigneeId  *Id    `json:"assignee_id"`
}

type TaskStore interface {
	GetTask(ctx context.Context, taskId Id) (*Task, error)
	GetUser(ctx context.Context, userId Id) (*User, error)
	SetUserOnline(ctx context.Context, userId Id, online bool) error
	SetTaskStatus(ctx context.Context, taskId Id, status string) error
	SetTaskAssignee(ctx context.Context, taskId Id, assigneeId *Id) error
	CreateTaskChatMessage(ctx context.Context, taskId Id, senderId Id, content string) error
}

// only the owner can assign
func CanAssign(task *Task, actorId Id) bool {
	return task.OwnerId == actorId
}

// the owner or the current assignee can move status
func CanUpdateStatus(task *Task, actorId Id) bool {
	if task.OwnerId == actorId {
		return true
	}
	return task.AssigneeId != nil && *task.AssigneeId == actorId
}

// the task chat participants are the owner and the assignee
func CanAccessTaskChat(task *Task, userId Id) bool {
	if task.OwnerId == userId {
		return true
	}
	return task.AssigneeId != nil && *task.AssigneeId == userId
}

func TaskParticipants(task *Task) []Id {
	participants := []Id{task.OwnerId}
	if task.AssigneeId != nil && *task.AssigneeId != task.OwnerId {
		participants = append(participants, *task.AssigneeId)
	}
	return participants
}
