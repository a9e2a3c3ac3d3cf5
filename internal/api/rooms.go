package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/npezzotti/roomchat/internal/chat"
	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/server"
	"github.com/npezzotti/roomchat/internal/types"
	"go.uber.org/zap"
)

type CreateRoomRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type SendMessageRequest struct {
	Content     string                `json:"content"`
	Attachments []database.Attachment `json:"attachments"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

func userRef(u database.User) types.UserRef {
	return types.UserRef{Id: u.Id, Name: u.Name}
}

// notify fans a REST mutation out to realtime clients. The write has already
// succeeded, so a failed publish is only logged.
func (s *GoChatApp) notify(ctx context.Context, roomId string, evt *server.ServerEvent) {
	var err error
	if roomId == "" {
		err = s.cs.PublishAll(ctx, evt)
	} else {
		err = s.cs.PublishRoom(ctx, roomId, evt, nil)
	}
	if err != nil {
		s.log.Warn("failed to publish event",
			zap.String("event", evt.Event),
			zap.String("room_id", roomId),
			zap.Error(err),
		)
	}
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.svc.ListRooms(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, dataResponse(types.NewRooms(rooms)))
}

func (s *GoChatApp) listUserRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.svc.RoomsForUser(r.Context(), currentUser(r).Id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, dataResponse(types.NewRooms(rooms)))
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := s.readJson(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	room, err := s.svc.CreateRoom(r.Context(), currentUser(r).Id, req.Name, req.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res := types.NewRoom(room)
	s.notify(r.Context(), "", server.NewServerEvent(server.EventRoomCreated, server.RoomPayload{Room: res}))
	s.writeJson(w, http.StatusCreated, dataResponse(res))
}

func (s *GoChatApp) getRoomDetails(w http.ResponseWriter, r *http.Request) {
	room, msgs, err := s.svc.RoomDetails(r.Context(), chi.URLParam(r, "id"), currentUser(r).Id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res := types.NewRoom(room)
	res.Messages = types.NewMessages(msgs)
	s.writeJson(w, http.StatusOK, dataResponse(res))
}

func (s *GoChatApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	room, added, err := s.svc.JoinRoom(r.Context(), chi.URLParam(r, "id"), user.Id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !added {
		s.writeError(w, r, chat.ErrAlreadyJoined)
		return
	}

	s.notify(r.Context(), room.ExternalId, server.NewServerEvent(server.EventUserJoined, server.MembershipPayload{
		RoomId: room.ExternalId,
		User:   userRef(user),
	}))
	s.writeJson(w, http.StatusOK, dataResponse(types.NewRoom(room)))
}

func (s *GoChatApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	room, removed, err := s.svc.LeaveRoom(r.Context(), chi.URLParam(r, "id"), user.Id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if removed {
		s.notify(r.Context(), room.ExternalId, server.NewServerEvent(server.EventUserLeft, server.MembershipPayload{
			RoomId: room.ExternalId,
			User:   userRef(user),
		}))
	}
	s.writeJson(w, http.StatusOK, messageResponse("You left the room"))
}

func (s *GoChatApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.svc.DeleteRoom(r.Context(), chi.URLParam(r, "id"), currentUser(r).Id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.notify(r.Context(), "", server.NewServerEvent(server.EventRoomDeleted, server.RoomDeletedPayload{RoomId: room.ExternalId}))
	if err := s.cs.CloseRoom(room.ExternalId); err != nil {
		s.log.Warn("failed to close room group", zap.String("room_id", room.ExternalId), zap.Error(err))
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := s.readJson(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	msg, err := s.svc.SendMessage(r.Context(), chi.URLParam(r, "id"), currentUser(r).Id, req.Content, req.Attachments)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res := types.NewMessage(msg)
	s.notify(r.Context(), res.RoomId, server.NewServerEvent(server.EventNewMessage, server.MessagePayload{
		RoomId:  res.RoomId,
		Message: res,
	}))
	s.writeJson(w, http.StatusCreated, dataResponse(res))
}

// queryInt returns 0 for a missing or malformed parameter.
func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	_, msgs, err := s.svc.GetMessages(r.Context(), chi.URLParam(r, "id"), currentUser(r).Id,
		queryInt(r, "before"), queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, dataResponse(types.NewMessages(msgs)))
}

func messageId(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "messageId"))
	if err != nil {
		return 0, chat.ErrMessageNotFound
	}
	return id, nil
}

func (s *GoChatApp) editMessage(w http.ResponseWriter, r *http.Request) {
	id, err := messageId(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req EditMessageRequest
	if err := s.readJson(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	msg, err := s.svc.EditMessage(r.Context(), id, currentUser(r).Id, req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res := types.NewMessage(msg)
	s.notify(r.Context(), res.RoomId, server.NewServerEvent(server.EventMessageEdited, server.MessageEditedPayload{
		RoomId:    res.RoomId,
		MessageId: res.Id,
		Content:   res.Content,
		UpdatedAt: res.UpdatedAt,
	}))
	s.writeJson(w, http.StatusOK, dataResponse(res))
}

func (s *GoChatApp) deleteRoomMessage(w http.ResponseWriter, r *http.Request) {
	s.removeMessage(w, r, chi.URLParam(r, "id"))
}

func (s *GoChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	s.removeMessage(w, r, "")
}

func (s *GoChatApp) removeMessage(w http.ResponseWriter, r *http.Request, roomId string) {
	id, err := messageId(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	msg, err := s.svc.DeleteMessage(r.Context(), roomId, id, currentUser(r).Id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.notify(r.Context(), msg.RoomExternalId, server.NewServerEvent(server.EventMessageDeleted, server.MessageDeletedPayload{
		RoomId:    msg.RoomExternalId,
		MessageId: msg.Id,
	}))
	w.WriteHeader(http.StatusNoContent)
}
