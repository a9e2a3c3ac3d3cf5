package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/npezzotti/roomchat/internal/chat"
	"github.com/npezzotti/roomchat/internal/types"
	"go.uber.org/zap"
)

const (
	handlerTimeout     = 10 * time.Second
	genericFailureText = "Something went very wrong!"
)

var errInvalidFrame = &chat.Error{Code: http.StatusBadRequest, Message: "Invalid message format"}

type eventHandler func(ctx context.Context, c *Client, data json.RawMessage) error

var eventHandlers = map[string]eventHandler{
	EventCreateRoom:     handleCreateRoom,
	EventGetRoomsByUser: handleGetRoomsByUser,
	EventGetAllRooms:    handleGetAllRooms,
	EventGetRoomDetails: handleGetRoomDetails,
	EventJoinRoom:       handleJoinRoom,
	EventLeaveRoom:      handleLeaveRoom,
	EventDeleteRoom:     handleDeleteRoom,
	EventSendMessage:    handleSendMessage,
	EventGetMessages:    handleGetMessages,
	EventEditMessage:    handleEditMessage,
	EventDeleteMessage:  handleDeleteMessage,
	EventTyping:         handleTyping(EventTyping),
	EventStopTyping:     handleTyping(EventStopTyping),
}

// handleEvent runs the handler for evt and reports any failure to the
// originating connection only.
func (c *Client) handleEvent(evt *ClientEvent) {
	h, ok := eventHandlers[evt.Event]
	if !ok {
		c.sendError(&chat.Error{Code: http.StatusBadRequest, Message: fmt.Sprintf("Unknown event %q", evt.Event)})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := h(ctx, c, evt.Data); err != nil {
		c.sendError(err)
	}
}

func (c *Client) sendError(err error) {
	msg := genericFailureText
	if opErr, ok := chat.AsError(err); ok {
		msg = opErr.Message
		c.log.Debug("event rejected", zap.String("reason", msg))
	} else {
		c.log.Error("event failed", zap.Error(err))
		if c.chatServer.verboseErrors {
			msg = err.Error()
		}
	}

	c.queueEvent(NewServerEvent(EventError, ErrorPayload{Message: msg}))
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errInvalidFrame
	}
	return nil
}

func handleCreateRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	var req CreateRoom
	if err := decode(data, &req); err != nil {
		return err
	}

	room, err := c.chatServer.svc.CreateRoom(ctx, c.user.Id, req.Name, req.Type)
	if err != nil {
		return err
	}

	if err := c.chatServer.joinGroup(c, room.ExternalId); err != nil {
		return err
	}

	return c.chatServer.PublishAll(ctx, NewServerEvent(EventRoomCreated, RoomPayload{Room: types.NewRoom(room)}))
}

func handleGetRoomsByUser(ctx context.Context, c *Client, _ json.RawMessage) error {
	rooms, err := c.chatServer.svc.RoomsForUser(ctx, c.user.Id)
	if err != nil {
		return err
	}

	c.queueEvent(NewServerEvent(EventUserRooms, RoomsPayload{Rooms: types.NewRooms(rooms)}))
	return nil
}

func handleGetAllRooms(ctx context.Context, c *Client, _ json.RawMessage) error {
	rooms, err := c.chatServer.svc.ListRooms(ctx)
	if err != nil {
		return err
	}

	c.queueEvent(NewServerEvent(EventAllRooms, RoomsPayload{Rooms: types.NewRooms(rooms)}))
	return nil
}

func handleGetRoomDetails(ctx context.Context, c *Client, data json.RawMessage) error {
	var req RoomRef
	if err := decode(data, &req); err != nil {
		return err
	}

	room, msgs, err := c.chatServer.svc.RoomDetails(ctx, req.RoomId, c.user.Id)
	if err != nil {
		return err
	}

	res := types.NewRoom(room)
	res.Messages = types.NewMessages(msgs)
	c.queueEvent(NewServerEvent(EventRoomDetails, RoomPayload{Room: res}))
	return nil
}

// handleJoinRoom succeeds for existing participants too, so a reconnecting
// client can rejoin its rooms' broadcast groups.
func handleJoinRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	var req RoomRef
	if err := decode(data, &req); err != nil {
		return err
	}

	room, _, err := c.chatServer.svc.JoinRoom(ctx, req.RoomId, c.user.Id)
	if err != nil {
		return err
	}

	if err := c.chatServer.joinGroup(c, room.ExternalId); err != nil {
		return err
	}

	return c.chatServer.PublishRoom(ctx, room.ExternalId, NewServerEvent(EventUserJoined, MembershipPayload{
		RoomId: room.ExternalId,
		User:   c.user,
	}), nil)
}

func handleLeaveRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	var req RoomRef
	if err := decode(data, &req); err != nil {
		return err
	}

	room, removed, err := c.chatServer.svc.LeaveRoom(ctx, req.RoomId, c.user.Id)
	if err != nil {
		return err
	}

	if err := c.chatServer.leaveGroup(c, room.ExternalId); err != nil {
		return err
	}

	evt := NewServerEvent(EventUserLeft, MembershipPayload{RoomId: room.ExternalId, User: c.user})
	if removed {
		if err := c.chatServer.PublishRoom(ctx, room.ExternalId, evt, nil); err != nil {
			return err
		}
	}

	// the leaver is out of the group but still learns the leave succeeded
	c.queueEvent(evt)
	return nil
}

func handleDeleteRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	var req RoomRef
	if err := decode(data, &req); err != nil {
		return err
	}

	room, err := c.chatServer.svc.DeleteRoom(ctx, req.RoomId, c.user.Id)
	if err != nil {
		return err
	}

	if err := c.chatServer.PublishAll(ctx, NewServerEvent(EventRoomDeleted, RoomDeletedPayload{RoomId: room.ExternalId})); err != nil {
		return err
	}

	return c.chatServer.CloseRoom(room.ExternalId)
}

func handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var req SendMessage
	if err := decode(data, &req); err != nil {
		return err
	}

	msg, err := c.chatServer.svc.SendMessage(ctx, req.RoomId, c.user.Id, req.Content, req.Attachments)
	if err != nil {
		return err
	}

	return c.chatServer.PublishRoom(ctx, msg.RoomExternalId, NewServerEvent(EventNewMessage, MessagePayload{
		RoomId:  msg.RoomExternalId,
		Message: types.NewMessage(msg),
	}), nil)
}

func handleGetMessages(ctx context.Context, c *Client, data json.RawMessage) error {
	var req GetMessages
	if err := decode(data, &req); err != nil {
		return err
	}

	room, msgs, err := c.chatServer.svc.GetMessages(ctx, req.RoomId, c.user.Id, req.Before, req.Limit)
	if err != nil {
		return err
	}

	c.queueEvent(NewServerEvent(EventRoomMessages, MessagesPayload{
		RoomId:   room.ExternalId,
		Messages: types.NewMessages(msgs),
	}))
	return nil
}

func handleEditMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var req EditMessage
	if err := decode(data, &req); err != nil {
		return err
	}

	msg, err := c.chatServer.svc.EditMessage(ctx, req.MessageId, c.user.Id, req.Content)
	if err != nil {
		return err
	}

	return c.chatServer.PublishRoom(ctx, msg.RoomExternalId, NewServerEvent(EventMessageEdited, MessageEditedPayload{
		RoomId:    msg.RoomExternalId,
		MessageId: msg.Id,
		Content:   msg.Content,
		UpdatedAt: msg.UpdatedAt,
	}), nil)
}

func handleDeleteMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var req DeleteMessage
	if err := decode(data, &req); err != nil {
		return err
	}

	msg, err := c.chatServer.svc.DeleteMessage(ctx, req.RoomId, req.MessageId, c.user.Id)
	if err != nil {
		return err
	}

	return c.chatServer.PublishRoom(ctx, msg.RoomExternalId, NewServerEvent(EventMessageDeleted, MessageDeletedPayload{
		RoomId:    msg.RoomExternalId,
		MessageId: msg.Id,
	}), nil)
}

func handleTyping(event string) eventHandler {
	return func(ctx context.Context, c *Client, data json.RawMessage) error {
		var req RoomRef
		if err := decode(data, &req); err != nil {
			return err
		}

		room, err := c.chatServer.svc.AssertMember(ctx, req.RoomId, c.user.Id)
		if err != nil {
			return err
		}

		return c.chatServer.PublishRoom(ctx, room.ExternalId, NewServerEvent(event, TypingPayload{
			RoomId: room.ExternalId,
			User:   c.user,
		}), c)
	}
}
