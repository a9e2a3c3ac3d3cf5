// Package chat holds the room and message rules shared by the REST API and
// the realtime gateway.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/roomchat/internal/database"
	"github.com/teris-io/shortid"
)

type Service struct {
	db    database.ChatRepository
	newId func() (string, error)
}

func NewService(db database.ChatRepository) *Service {
	return &Service{
		db:    db,
		newId: shortid.Generate,
	}
}

// AssertMember loads the room and checks that userId is its creator or one
// of its participants.
func (s *Service) AssertMember(ctx context.Context, roomId string, userId int) (database.Room, error) {
	room, err := s.getRoom(ctx, roomId)
	if err != nil {
		return database.Room{}, err
	}

	if !room.HasMember(userId) {
		return database.Room{}, ErrNotParticipant
	}

	return room, nil
}

func (s *Service) getRoom(ctx context.Context, roomId string) (database.Room, error) {
	if roomId == "" {
		return database.Room{}, ErrRoomNotFound
	}

	room, err := s.db.GetRoomByExternalId(ctx, roomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Room{}, ErrRoomNotFound
		}
		return database.Room{}, fmt.Errorf("get room: %w", err)
	}

	return room, nil
}

func (s *Service) CreateRoom(ctx context.Context, userId int, name, kind string) (database.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return database.Room{}, ErrRoomNameRequired
	}

	switch kind {
	case "":
		kind = database.RoomKindRoom
	case database.RoomKindRoom, database.RoomKindDM:
	default:
		return database.Room{}, ErrInvalidRoomType
	}

	externalId, err := s.newId()
	if err != nil {
		return database.Room{}, fmt.Errorf("generate room id: %w", err)
	}

	room, err := s.db.CreateRoom(ctx, database.CreateRoomParams{
		ExternalId: externalId,
		Kind:       kind,
		Name:       name,
		CreatorId:  userId,
	})
	if err != nil {
		return database.Room{}, fmt.Errorf("create room: %w", err)
	}

	return room, nil
}

func (s *Service) ListRooms(ctx context.Context) ([]database.Room, error) {
	rooms, err := s.db.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

func (s *Service) RoomsForUser(ctx context.Context, userId int) ([]database.Room, error) {
	rooms, err := s.db.ListRoomsForUser(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list rooms for user: %w", err)
	}
	return rooms, nil
}

// RoomDetails returns the room with its full message history.
func (s *Service) RoomDetails(ctx context.Context, roomId string, userId int) (database.Room, []database.Message, error) {
	room, err := s.AssertMember(ctx, roomId, userId)
	if err != nil {
		return database.Room{}, nil, err
	}

	msgs, err := s.db.ListMessages(ctx, database.ListMessagesParams{RoomId: room.Id})
	if err != nil {
		return database.Room{}, nil, fmt.Errorf("list messages: %w", err)
	}

	return room, msgs, nil
}

// JoinRoom adds userId to the room's participants. The returned flag is
// false when the user already was a participant.
func (s *Service) JoinRoom(ctx context.Context, roomId string, userId int) (database.Room, bool, error) {
	room, err := s.getRoom(ctx, roomId)
	if err != nil {
		return database.Room{}, false, err
	}

	added, err := s.db.AddParticipant(ctx, room.Id, userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Room{}, false, ErrRoomNotFound
		}
		return database.Room{}, false, fmt.Errorf("add participant: %w", err)
	}

	if !added {
		return room, false, nil
	}

	room, err = s.getRoom(ctx, roomId)
	if err != nil {
		return database.Room{}, false, err
	}

	return room, true, nil
}

// LeaveRoom removes userId from the room's participants. The returned flag
// is false when the user was not a participant.
func (s *Service) LeaveRoom(ctx context.Context, roomId string, userId int) (database.Room, bool, error) {
	room, err := s.getRoom(ctx, roomId)
	if err != nil {
		return database.Room{}, false, err
	}

	if room.Creator.Id == userId {
		return database.Room{}, false, ErrCreatorCannotLeave
	}

	removed, err := s.db.RemoveParticipant(ctx, room.Id, userId)
	if err != nil {
		return database.Room{}, false, fmt.Errorf("remove participant: %w", err)
	}

	return room, removed, nil
}

// DeleteRoom deletes the room with its participants and messages. Only the
// creator may delete a room.
func (s *Service) DeleteRoom(ctx context.Context, roomId string, userId int) (database.Room, error) {
	room, err := s.getRoom(ctx, roomId)
	if err != nil {
		return database.Room{}, err
	}

	if room.Creator.Id != userId {
		return database.Room{}, ErrNotRoomCreator
	}

	if err := s.db.DeleteRoom(ctx, room.Id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Room{}, ErrRoomNotFound
		}
		return database.Room{}, fmt.Errorf("delete room: %w", err)
	}

	return room, nil
}

func validateAttachments(attachments []database.Attachment) error {
	for _, a := range attachments {
		switch a.Kind {
		case database.AttachmentDocument, database.AttachmentFile, database.AttachmentPoll, database.AttachmentThread:
		default:
			return ErrInvalidAttachment
		}
	}
	return nil
}

func (s *Service) SendMessage(ctx context.Context, roomId string, userId int, content string, attachments []database.Attachment) (database.Message, error) {
	room, err := s.AssertMember(ctx, roomId, userId)
	if err != nil {
		return database.Message{}, err
	}

	if strings.TrimSpace(content) == "" {
		return database.Message{}, ErrContentRequired
	}

	if err := validateAttachments(attachments); err != nil {
		return database.Message{}, err
	}

	msg, err := s.db.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:      room.Id,
		SenderId:    userId,
		Content:     content,
		Attachments: attachments,
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Message{}, ErrRoomNotFound
		}
		return database.Message{}, fmt.Errorf("create message: %w", err)
	}

	return msg, nil
}

// GetMessages lists the room's messages in insertion order. before and
// limit page backwards through the history when non-zero.
func (s *Service) GetMessages(ctx context.Context, roomId string, userId, before, limit int) (database.Room, []database.Message, error) {
	room, err := s.AssertMember(ctx, roomId, userId)
	if err != nil {
		return database.Room{}, nil, err
	}

	msgs, err := s.db.ListMessages(ctx, database.ListMessagesParams{
		RoomId: room.Id,
		Before: before,
		Limit:  limit,
	})
	if err != nil {
		return database.Room{}, nil, fmt.Errorf("list messages: %w", err)
	}

	return room, msgs, nil
}

func (s *Service) getMessage(ctx context.Context, messageId int) (database.Message, error) {
	msg, err := s.db.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Message{}, ErrMessageNotFound
		}
		return database.Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *Service) EditMessage(ctx context.Context, messageId, userId int, content string) (database.Message, error) {
	msg, err := s.getMessage(ctx, messageId)
	if err != nil {
		return database.Message{}, err
	}

	if msg.Sender.Id != userId {
		return database.Message{}, ErrEditForeignMessage
	}

	if strings.TrimSpace(content) == "" {
		return database.Message{}, ErrContentRequired
	}

	updated, err := s.db.UpdateMessageContent(ctx, messageId, content)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Message{}, ErrMessageNotFound
		}
		return database.Message{}, fmt.Errorf("update message: %w", err)
	}

	return updated, nil
}

// DeleteMessage removes a message sent by userId. When roomId is set the
// message must belong to that room.
func (s *Service) DeleteMessage(ctx context.Context, roomId string, messageId, userId int) (database.Message, error) {
	msg, err := s.getMessage(ctx, messageId)
	if err != nil {
		return database.Message{}, err
	}

	if roomId != "" && msg.RoomExternalId != roomId {
		return database.Message{}, ErrMessageNotFound
	}

	if msg.Sender.Id != userId {
		return database.Message{}, ErrDeleteForeignMessage
	}

	if err := s.db.DeleteMessage(ctx, messageId); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Message{}, ErrMessageNotFound
		}
		return database.Message{}, fmt.Errorf("delete message: %w", err)
	}

	return msg, nil
}
