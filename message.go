package hive

import (
	"encoding/json"
	"fmt"
)

// wire shapes for the realtime channel. All messages are json text frames
// with a `type` tag. Inbound messages decode to one variant per type with
// its own required fields; anything else collapses to a decode error that
// the router answers with an `error` reply.

const MessageTypeChat = "chat_message"
const MessageTypeTaskChat = "task_chat_message"
const MessageTypePing = "ping"
const MessageTypePong = "pong"
const MessageTypeError = "error"
const MessageTypeTaskStatusUpdate = "task_status_update"
const MessageTypeTaskAssignmentUpdate = "task_assignment_update"

type inboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type InboundMessage interface {
	MessageType() string
}

type InboundChat struct {
	Message string `json:"message"`
}

func (self *InboundChat) MessageType() string {
	return MessageTypeChat
}

type InboundTaskChat struct {
	TaskId  Id     `json:"task_id"`
	Message string `json:"message"`
}

func (self *InboundTaskChat) MessageType() string {
	return MessageTypeTaskChat
}

type InboundPing struct {
	// echoed back opaquely in the pong
	Timestamp any `json:"timestamp"`
}

func (self *InboundPing) MessageType() string {
	return MessageTypePing
}

// DecodeInbound parses one inbound frame into its typed variant.
// A returned error is a protocol error. The connection stays open and the
// error text is sent back to the sender.
func DecodeInbound(frame []byte) (InboundMessage, error) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, fmt.Errorf("Invalid message format: %s", err)
	}

	switch envelope.Type {
	case MessageTypeChat:
		message := &InboundChat{}
		if len(envelope.Payload) > 0 {
			if err := json.Unmarshal(envelope.Payload, message); err != nil {
				return nil, fmt.Errorf("Invalid message format: %s", err)
			}
		}
		if message.Message == "" {
			return nil, fmt.Errorf("Invalid message format: chat_message requires a message")
		}
		return message, nil
	case MessageTypeTaskChat:
		message := &InboundTaskChat{}
		if len(envelope.Payload) == 0 {
			return nil, fmt.Errorf("Invalid message format: task_chat_message requires a payload")
		}
		if err := json.Unmarshal(envelope.Payload, message); err != nil {
			return nil, fmt.Errorf("Invalid message format: %s", err)
		}
		if (message.TaskId == Id{}) {
			return nil, fmt.Errorf("Invalid message format: task_chat_message requires a task_id")
		}
		if message.Message == "" {
			return nil, fmt.Errorf("Invalid message format: task_chat_message requires a message")
		}
		return message, nil
	case MessageTypePing:
		message := &InboundPing{}
		if len(envelope.Payload) > 0 {
			if err := json.Unmarshal(envelope.Payload, message); err != nil {
				return nil, fmt.Errorf("Invalid message format: %s", err)
			}
		}
		return message, nil
	case "":
		return nil, fmt.Errorf("Invalid message format: missing type")
	default:
		return nil, fmt.Errorf("Unrecognized message type: %s", envelope.Type)
	}
}

// outbound records, serialized as-is

type ChatBroadcast struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	UserId  Id     `json:"user_id"`
}

func NewChatBroadcast(message string, userId Id) *ChatBroadcast {
	return &ChatBroadcast{
		Type:    MessageTypeChat,
		Message: message,
		UserId:  userId,
	}
}

type TaskChatDelivery struct {
	Type        string `json:"type"`
	TaskId      Id     `json:"task_id"`
	Message     string `json:"message"`
	SenderId    Id     `json:"sender_id"`
	SenderEmail string `json:"sender_email"`
	SenderRole  string `json:"sender_role"`
}

type Pong struct {
	Type      string `json:"type"`
	Timestamp any    `json:"timestamp"`
}

func NewPong(timestamp any) *Pong {
	return &Pong{
		Type:      MessageTypePong,
		Timestamp: timestamp,
	}
}

type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorReply(message string) *ErrorReply {
	return &ErrorReply{
		Type:    MessageTypeError,
		Message: message,
	}
}

type TaskStatusUpdate struct {
	Type       string `json:"type"`
	TaskId     Id     `json:"task_id"`
	NewStatus  string `json:"new_status"`
	AssigneeId *Id    `json:"assignee_id"`
}

type TaskAssignmentUpdate struct {
	Type       string `json:"type"`
	TaskId     Id     `json:"task_id"`
	AssigneeId *Id    `json:"assignee_id"`
	AssignedBy Id     `json:"assigned_by"`
}
