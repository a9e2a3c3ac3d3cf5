package database

import (
	"context"
	"errors"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

type ChatRepository interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserById(ctx context.Context, userId int) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]User, error)
	UpdateUser(ctx context.Context, params UpdateUserParams) (User, error)
	UpdatePassword(ctx context.Context, userId int, passwordHash string) error
	UpdateProfile(ctx context.Context, userId int, profile Profile) (User, error)
	DeactivateUser(ctx context.Context, userId int) error
	DeleteUser(ctx context.Context, userId int) error

	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoomByExternalId(ctx context.Context, externalId string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	ListRoomsForUser(ctx context.Context, userId int) ([]Room, error)
	AddParticipant(ctx context.Context, roomId, userId int) (bool, error)
	RemoveParticipant(ctx context.Context, roomId, userId int) (bool, error)
	DeleteRoom(ctx context.Context, roomId int) error

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, messageId int) (Message, error)
	ListMessages(ctx context.Context, params ListMessagesParams) ([]Message, error)
	UpdateMessageContent(ctx context.Context, messageId int, content string) (Message, error)
	DeleteMessage(ctx context.Context, messageId int) error
}
