package server

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/types"
)

// client to server events
const (
	EventCreateRoom     = "createRoom"
	EventGetRoomsByUser = "getRoomsByUser"
	EventGetAllRooms    = "getAllRooms"
	EventGetRoomDetails = "getRoomDetails"
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventDeleteRoom     = "deleteRoom"
	EventSendMessage    = "sendMessage"
	EventGetMessages    = "getMessages"
	EventEditMessage    = "editMessage"
	EventDeleteMessage  = "deleteMessage"
	EventTyping         = "typing"
	EventStopTyping     = "stopTyping"
)

// server to client events
const (
	EventRoomCreated    = "roomCreated"
	EventUserRooms      = "userRooms"
	EventAllRooms       = "allRooms"
	EventRoomDetails    = "roomDetails"
	EventUserJoined     = "userJoined"
	EventUserLeft       = "userLeft"
	EventRoomDeleted    = "roomDeleted"
	EventNewMessage     = "newMessage"
	EventRoomMessages   = "roomMessages"
	EventMessageEdited  = "messageEdited"
	EventMessageDeleted = "messageDeleted"
	EventError          = "error"
)

// ClientEvent is a frame received from a connection.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is a frame sent to one or more connections.
type ServerEvent struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewServerEvent(event string, data any) *ServerEvent {
	return &ServerEvent{
		Event:     event,
		Data:      data,
		Timestamp: Now(),
	}
}

type CreateRoom struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type RoomRef struct {
	RoomId string `json:"room_id"`
}

type SendMessage struct {
	RoomId      string                `json:"room_id"`
	Content     string                `json:"content"`
	Attachments []database.Attachment `json:"attachments,omitempty"`
}

type GetMessages struct {
	RoomId string `json:"room_id"`
	Before int    `json:"before,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type EditMessage struct {
	MessageId int    `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteMessage struct {
	RoomId    string `json:"room_id"`
	MessageId int    `json:"message_id"`
}

type RoomPayload struct {
	Room types.Room `json:"room"`
}

type RoomsPayload struct {
	Rooms []types.Room `json:"rooms"`
}

type MembershipPayload struct {
	RoomId string        `json:"room_id"`
	User   types.UserRef `json:"user"`
}

type RoomDeletedPayload struct {
	RoomId string `json:"room_id"`
}

type MessagePayload struct {
	RoomId  string        `json:"room_id"`
	Message types.Message `json:"message"`
}

type MessagesPayload struct {
	RoomId   string          `json:"room_id"`
	Messages []types.Message `json:"messages"`
}

type MessageEditedPayload struct {
	RoomId    string    `json:"room_id"`
	MessageId int       `json:"message_id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageDeletedPayload struct {
	RoomId    string `json:"room_id"`
	MessageId int    `json:"message_id"`
}

type TypingPayload struct {
	RoomId string        `json:"room_id"`
	User   types.UserRef `json:"user"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
