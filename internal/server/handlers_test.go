package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/roomchat/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice = database.Participant{Id: 1, Name: "alice"}
	bob   = database.Participant{Id: 2, Name: "bob"}
	carol = database.Participant{Id: 3, Name: "carol"}
)

func testRoom() database.Room {
	return database.Room{
		Id:           10,
		ExternalId:   "EoGKUXPHgz",
		Kind:         database.RoomKindRoom,
		Name:         "general",
		Creator:      alice,
		Participants: []database.Participant{alice, bob},
		SeqId:        1,
	}
}

func testMessage() database.Message {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return database.Message{
		Id:             5,
		RoomId:         10,
		RoomExternalId: "EoGKUXPHgz",
		SeqId:          1,
		Sender:         bob,
		Content:        "hello",
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
}

// event builds a client frame for c and runs it through the dispatcher.
func event(t *testing.T, c *Client, name string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	c.handleEvent(&ClientEvent{Event: name, Data: raw})
}

func assertError(t *testing.T, c *Client, message string) {
	t.Helper()
	payload := recvData[ErrorPayload](t, c, EventError)
	assert.Equal(t, message, payload.Message)
}

// roomClients registers alice and bob in the room's group and carol outside it.
func roomClients(t *testing.T, cs *ChatServer) (*Client, *Client, *Client) {
	a := registerTestClient(t, cs, alice.Id, alice.Name)
	b := registerTestClient(t, cs, bob.Id, bob.Name)
	c := registerTestClient(t, cs, carol.Id, carol.Name)
	require.NoError(t, cs.joinGroup(a, testRoom().ExternalId))
	require.NoError(t, cs.joinGroup(b, testRoom().ExternalId))
	return a, b, c
}

func TestHandleCreateRoom(t *testing.T) {
	t.Run("announces the room to every connection", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)

		a, b, c := roomClients(t, cs)

		created := database.Room{Id: 11, ExternalId: "newroom", Kind: database.RoomKindRoom, Name: "random", Creator: carol, Participants: []database.Participant{carol}}
		db.On("CreateRoom", mock.MatchedBy(func(p database.CreateRoomParams) bool {
			return p.Name == "random" && p.Kind == database.RoomKindRoom && p.CreatorId == carol.Id && p.ExternalId != ""
		})).Return(created, nil).Once()

		event(t, c, EventCreateRoom, CreateRoom{Name: " random "})

		for _, client := range []*Client{a, b, c} {
			payload := recvData[RoomPayload](t, client, EventRoomCreated)
			assert.Equal(t, "newroom", payload.Room.Id)
			assert.Equal(t, "random", payload.Room.Name)
		}

		require.NoError(t, cs.PublishRoom(context.Background(), "newroom", NewServerEvent(EventNewMessage, nil), nil))
		assert.Equal(t, EventNewMessage, recvEvent(t, c).Event, "expected creator to be in the room's group")
	})

	tcases := []struct {
		name    string
		req     CreateRoom
		message string
	}{
		{name: "missing name", req: CreateRoom{Name: "  "}, message: "Room name is required"},
		{name: "invalid type", req: CreateRoom{Name: "general", Type: "group"}, message: "Room type must be one of: dm, room"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			defer db.AssertExpectations(t)
			cs := startTestChatServer(t, db)
			c := registerTestClient(t, cs, alice.Id, alice.Name)

			event(t, c, EventCreateRoom, tc.req)
			assertError(t, c, tc.message)
		})
	}
}

func TestHandleRoomQueries(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	cs := startTestChatServer(t, db)
	a := registerTestClient(t, cs, alice.Id, alice.Name)
	c := registerTestClient(t, cs, carol.Id, carol.Name)

	t.Run("getAllRooms", func(t *testing.T) {
		db.On("ListRooms").Return([]database.Room{testRoom()}, nil).Once()

		event(t, a, EventGetAllRooms, nil)
		payload := recvData[RoomsPayload](t, a, EventAllRooms)
		require.Len(t, payload.Rooms, 1)
		assert.Equal(t, "EoGKUXPHgz", payload.Rooms[0].Id)
		assert.Len(t, payload.Rooms[0].Participants, 2)
	})

	t.Run("getRoomsByUser", func(t *testing.T) {
		db.On("ListRoomsForUser", alice.Id).Return([]database.Room{}, nil).Once()

		event(t, a, EventGetRoomsByUser, nil)
		payload := recvData[RoomsPayload](t, a, EventUserRooms)
		assert.NotNil(t, payload.Rooms, "expected an empty list rather than null")
		assert.Empty(t, payload.Rooms)
	})

	t.Run("getRoomDetails", func(t *testing.T) {
		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()
		db.On("ListMessages", database.ListMessagesParams{RoomId: 10}).Return([]database.Message{testMessage()}, nil).Once()

		event(t, a, EventGetRoomDetails, RoomRef{RoomId: "EoGKUXPHgz"})
		payload := recvData[RoomPayload](t, a, EventRoomDetails)
		assert.Equal(t, "EoGKUXPHgz", payload.Room.Id)
		require.Len(t, payload.Room.Messages, 1)
		assert.Equal(t, "hello", payload.Room.Messages[0].Content)
	})

	t.Run("getRoomDetails for a stranger", func(t *testing.T) {
		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()

		event(t, c, EventGetRoomDetails, RoomRef{RoomId: "EoGKUXPHgz"})
		assertError(t, c, "You are not a participant in this room")
	})

	t.Run("getMessages", func(t *testing.T) {
		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()
		db.On("ListMessages", database.ListMessagesParams{RoomId: 10, Before: 9, Limit: 20}).Return([]database.Message{testMessage()}, nil).Once()

		event(t, a, EventGetMessages, GetMessages{RoomId: "EoGKUXPHgz", Before: 9, Limit: 20})
		payload := recvData[MessagesPayload](t, a, EventRoomMessages)
		assert.Equal(t, "EoGKUXPHgz", payload.RoomId)
		require.Len(t, payload.Messages, 1)
		assert.Equal(t, bob.Id, payload.Messages[0].Sender.Id)
	})
}

func TestHandleJoinRoom(t *testing.T) {
	t.Run("new participant joins the group", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		a, _, c := roomClients(t, cs)

		joined := testRoom()
		joined.Participants = append(joined.Participants, carol)
		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()
		db.On("AddParticipant", 10, carol.Id).Return(true, nil).Once()
		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(joined, nil).Once()

		event(t, c, EventJoinRoom, RoomRef{RoomId: "EoGKUXPHgz"})

		for _, client := range []*Client{a, c} {
			payload := recvData[MembershipPayload](t, client, EventUserJoined)
			assert.Equal(t, "EoGKUXPHgz", payload.RoomId)
			assert.Equal(t, carol.Id, payload.User.Id)
		}
	})

	t.Run("existing participant rejoins without error", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		b := registerTestClient(t, cs, bob.Id, bob.Name)

		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()
		db.On("AddParticipant", 10, bob.Id).Return(false, nil).Once()

		event(t, b, EventJoinRoom, RoomRef{RoomId: "EoGKUXPHgz"})
		payload := recvData[MembershipPayload](t, b, EventUserJoined)
		assert.Equal(t, bob.Id, payload.User.Id)
	})

	t.Run("unknown room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		c := registerTestClient(t, cs, carol.Id, carol.Name)

		db.On("GetRoomByExternalId", "missing").Return(database.Room{}, database.ErrNotFound).Once()

		event(t, c, EventJoinRoom, RoomRef{RoomId: "missing"})
		assertError(t, c, "Room not found")
	})
}

func TestHandleLeaveRoom(t *testing.T) {
	t.Run("participant leaves", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		a, b, _ := roomClients(t, cs)

		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()
		db.On("RemoveParticipant", 10, bob.Id).Return(true, nil).Once()

		event(t, b, EventLeaveRoom, RoomRef{RoomId: "EoGKUXPHgz"})

		payload := recvData[MembershipPayload](t, a, EventUserLeft)
		assert.Equal(t, bob.Id, payload.User.Id)
		assert.Equal(t, EventUserLeft, recvEvent(t, b).Event, "expected leaver to get a confirmation")

		require.NoError(t, cs.PublishRoom(context.Background(), "EoGKUXPHgz", NewServerEvent(EventNewMessage, nil), nil))
		recvEvent(t, a)
		assertNoEvent(t, b)
	})

	t.Run("non participant does not notify the room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		a, b, c := roomClients(t, cs)

		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()
		db.On("RemoveParticipant", 10, carol.Id).Return(false, nil).Once()

		event(t, c, EventLeaveRoom, RoomRef{RoomId: "EoGKUXPHgz"})
		assert.Equal(t, EventUserLeft, recvEvent(t, c).Event, "expected caller to get a confirmation")

		// the hub delivers in order, so a userLeft would arrive before this
		require.NoError(t, cs.PublishRoom(context.Background(), "EoGKUXPHgz", NewServerEvent(EventNewMessage, nil), nil))
		assert.Equal(t, EventNewMessage, recvEvent(t, a).Event, "expected no userLeft for a non participant")
		assert.Equal(t, EventNewMessage, recvEvent(t, b).Event, "expected no userLeft for a non participant")
	})

	t.Run("creator cannot leave", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		a, b, _ := roomClients(t, cs)

		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()

		event(t, a, EventLeaveRoom, RoomRef{RoomId: "EoGKUXPHgz"})
		assertError(t, a, "Room creator cannot leave the room")
		assertNoEvent(t, b)
	})
}

func TestHandleDeleteRoom(t *testing.T) {
	t.Run("creator deletes the room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		a, b, c := roomClients(t, cs)

		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()
		db.On("DeleteRoom", 10).Return(nil).Once()

		event(t, a, EventDeleteRoom, RoomRef{RoomId: "EoGKUXPHgz"})

		for _, client := range []*Client{a, b, c} {
			payload := recvData[RoomDeletedPayload](t, client, EventRoomDeleted)
			assert.Equal(t, "EoGKUXPHgz", payload.RoomId)
		}
	})

	t.Run("participant cannot delete", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		_, b, _ := roomClients(t, cs)

		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()

		event(t, b, EventDeleteRoom, RoomRef{RoomId: "EoGKUXPHgz"})
		assertError(t, b, "You are not authorized to delete this room")
	})
}

func TestHandleSendMessage(t *testing.T) {
	t.Run("message reaches the room only", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		a, b, c := roomClients(t, cs)

		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()
		db.On("CreateMessage", database.CreateMessageParams{RoomId: 10, SenderId: bob.Id, Content: "hello"}).Return(testMessage(), nil).Once()

		event(t, b, EventSendMessage, SendMessage{RoomId: "EoGKUXPHgz", Content: "hello"})

		for _, client := range []*Client{a, b} {
			payload := recvData[MessagePayload](t, client, EventNewMessage)
			assert.Equal(t, "EoGKUXPHgz", payload.RoomId)
			assert.Equal(t, "hello", payload.Message.Content)
			assert.Equal(t, 1, payload.Message.SeqId)
		}
		assertNoEvent(t, c)
	})

	tcases := []struct {
		name    string
		userId  int
		req     SendMessage
		message string
	}{
		{name: "stranger", userId: carol.Id, req: SendMessage{RoomId: "EoGKUXPHgz", Content: "hi"}, message: "You are not a participant in this room"},
		{name: "empty content", userId: bob.Id, req: SendMessage{RoomId: "EoGKUXPHgz", Content: " "}, message: "Message content is required"},
		{
			name:    "invalid attachment",
			userId:  bob.Id,
			req:     SendMessage{RoomId: "EoGKUXPHgz", Content: "hi", Attachments: []database.Attachment{{Kind: "video"}}},
			message: "Attachment type must be one of: document, file, poll, thread",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			defer db.AssertExpectations(t)
			cs := startTestChatServer(t, db)
			client := registerTestClient(t, cs, tc.userId, "user")

			db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()

			event(t, client, EventSendMessage, tc.req)
			assertError(t, client, tc.message)
		})
	}
}

func TestHandleEditMessage(t *testing.T) {
	t.Run("edit is broadcast to the message's room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		a, b, c := roomClients(t, cs)

		edited := testMessage()
		edited.Content = "hello again"
		edited.UpdatedAt = edited.UpdatedAt.Add(time.Minute)
		db.On("GetMessage", 5).Return(testMessage(), nil).Once()
		db.On("UpdateMessageContent", 5, "hello again").Return(edited, nil).Once()

		event(t, b, EventEditMessage, EditMessage{MessageId: 5, Content: "hello again"})

		for _, client := range []*Client{a, b} {
			payload := recvData[MessageEditedPayload](t, client, EventMessageEdited)
			assert.Equal(t, "EoGKUXPHgz", payload.RoomId)
			assert.Equal(t, 5, payload.MessageId)
			assert.Equal(t, "hello again", payload.Content)
			assert.True(t, edited.UpdatedAt.Equal(payload.UpdatedAt))
		}
		assertNoEvent(t, c)
	})

	t.Run("foreign message", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		a, b, _ := roomClients(t, cs)

		db.On("GetMessage", 5).Return(testMessage(), nil).Once()

		event(t, a, EventEditMessage, EditMessage{MessageId: 5, Content: "mine now"})
		assertError(t, a, "You can only edit your own messages")
		assertNoEvent(t, b)
	})
}

func TestHandleDeleteMessage(t *testing.T) {
	tcases := []struct {
		name    string
		userId  int
		req     DeleteMessage
		mockErr error
		message string
	}{
		{name: "sender deletes", userId: bob.Id, req: DeleteMessage{RoomId: "EoGKUXPHgz", MessageId: 5}},
		{name: "foreign message", userId: alice.Id, req: DeleteMessage{RoomId: "EoGKUXPHgz", MessageId: 5}, message: "You can only delete your own messages"},
		{name: "wrong room", userId: bob.Id, req: DeleteMessage{RoomId: "other", MessageId: 5}, message: "Message not found"},
		{name: "unknown message", userId: bob.Id, req: DeleteMessage{RoomId: "EoGKUXPHgz", MessageId: 5}, mockErr: database.ErrNotFound, message: "Message not found"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			defer db.AssertExpectations(t)
			cs := startTestChatServer(t, db)
			a, b, _ := roomClients(t, cs)
			clients := map[int]*Client{alice.Id: a, bob.Id: b}
			sender := clients[tc.userId]

			if tc.mockErr != nil {
				db.On("GetMessage", 5).Return(database.Message{}, tc.mockErr).Once()
			} else {
				db.On("GetMessage", 5).Return(testMessage(), nil).Once()
			}
			if tc.message == "" {
				db.On("DeleteMessage", 5).Return(nil).Once()
			}

			event(t, sender, EventDeleteMessage, tc.req)

			if tc.message != "" {
				assertError(t, sender, tc.message)
				return
			}

			for _, client := range []*Client{a, b} {
				payload := recvData[MessageDeletedPayload](t, client, EventMessageDeleted)
				assert.Equal(t, "EoGKUXPHgz", payload.RoomId)
				assert.Equal(t, 5, payload.MessageId)
			}
		})
	}
}

func TestHandleTyping(t *testing.T) {
	for _, name := range []string{EventTyping, EventStopTyping} {
		t.Run(name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			defer db.AssertExpectations(t)
			cs := startTestChatServer(t, db)
			a, b, c := roomClients(t, cs)

			db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()

			event(t, a, name, RoomRef{RoomId: "EoGKUXPHgz"})

			payload := recvData[TypingPayload](t, b, name)
			assert.Equal(t, alice.Id, payload.User.Id)
			assert.Equal(t, alice.Name, payload.User.Name)
			assertNoEvent(t, a)
			assertNoEvent(t, c)
		})
	}

	t.Run("stranger", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		cs := startTestChatServer(t, db)
		_, b, c := roomClients(t, cs)

		db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(testRoom(), nil).Once()

		event(t, c, EventTyping, RoomRef{RoomId: "EoGKUXPHgz"})
		assertError(t, c, "You are not a participant in this room")
		assertNoEvent(t, b)
	})
}

func TestSendError(t *testing.T) {
	tcases := []struct {
		name    string
		verbose bool
		message string
	}{
		{name: "unexpected failures are hidden", message: "Something went very wrong!"},
		{name: "unexpected failures are shown when verbose", verbose: true, message: "get room: connection refused"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			defer db.AssertExpectations(t)
			cs := startTestChatServer(t, db, WithVerboseErrors(tc.verbose))
			c := registerTestClient(t, cs, alice.Id, alice.Name)

			db.On("GetRoomByExternalId", "EoGKUXPHgz").Return(database.Room{}, errors.New("connection refused")).Once()

			event(t, c, EventJoinRoom, RoomRef{RoomId: "EoGKUXPHgz"})
			assertError(t, c, tc.message)
		})
	}
}
