package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	args := m.Called(userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	args := m.Called(query, limit)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockChatRepository) UpdateUser(ctx context.Context, params UpdateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) UpdatePassword(ctx context.Context, userId int, passwordHash string) error {
	args := m.Called(userId, passwordHash)
	return args.Error(0)
}
func (m *MockChatRepository) UpdateProfile(ctx context.Context, userId int, profile Profile) (User, error) {
	args := m.Called(userId, profile)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) DeactivateUser(ctx context.Context, userId int) error {
	args := m.Called(userId)
	return args.Error(0)
}
func (m *MockChatRepository) DeleteUser(ctx context.Context, userId int) error {
	args := m.Called(userId)
	return args.Error(0)
}
func (m *MockChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomByExternalId(ctx context.Context, externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) ListRooms(ctx context.Context) ([]Room, error) {
	args := m.Called()
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockChatRepository) ListRoomsForUser(ctx context.Context, userId int) ([]Room, error) {
	args := m.Called(userId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockChatRepository) AddParticipant(ctx context.Context, roomId, userId int) (bool, error) {
	args := m.Called(roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) RemoveParticipant(ctx context.Context, roomId, userId int) (bool, error) {
	args := m.Called(roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) DeleteRoom(ctx context.Context, roomId int) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, messageId int) (Message, error) {
	args := m.Called(messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) ListMessages(ctx context.Context, params ListMessagesParams) ([]Message, error) {
	args := m.Called(params)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) UpdateMessageContent(ctx context.Context, messageId int, content string) (Message, error) {
	args := m.Called(messageId, content)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(ctx context.Context, messageId int) error {
	args := m.Called(messageId)
	return args.Error(0)
}
