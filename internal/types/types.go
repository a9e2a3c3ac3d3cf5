package types

import (
	"time"

	"github.com/npezzotti/roomchat/internal/database"
)

type UserRef struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
}

type User struct {
	Id        int                `json:"id"`
	Name      string             `json:"name"`
	Email     string             `json:"email,omitempty"`
	Profile   *database.Profile  `json:"profile,omitempty"`
	Addresses []database.Address `json:"addresses,omitempty"`
	Friends   []database.Friend  `json:"friends,omitempty"`
	Active    *bool              `json:"active,omitempty"`
	CreatedAt time.Time          `json:"created_at,omitempty"`
	UpdatedAt time.Time          `json:"updated_at,omitempty"`
}

type Room struct {
	Id           string    `json:"id"`
	Type         string    `json:"type"`
	Name         string    `json:"name,omitempty"`
	Creator      UserRef   `json:"creator"`
	Participants []UserRef `json:"participants"`
	Messages     []Message `json:"messages,omitempty"`
	SeqId        int       `json:"seq_id"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Message struct {
	Id          int                   `json:"id"`
	RoomId      string                `json:"room_id"`
	SeqId       int                   `json:"seq_id"`
	Sender      UserRef               `json:"sender"`
	Content     string                `json:"content"`
	Attachments []database.Attachment `json:"attachments"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// NewUserSummary returns the public identity fields only.
func NewUserSummary(u database.User) User {
	return User{
		Id:    u.Id,
		Name:  u.Name,
		Email: u.Email,
	}
}

// NewUser returns the full user view without credentials or one-time codes.
func NewUser(u database.User) User {
	profile := u.Profile
	active := u.Active
	return User{
		Id:        u.Id,
		Name:      u.Name,
		Email:     u.Email,
		Profile:   &profile,
		Addresses: u.Addresses,
		Friends:   u.Friends,
		Active:    &active,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func NewUserRef(p database.Participant) UserRef {
	return UserRef{Id: p.Id, Name: p.Name}
}

func NewRoom(r database.Room) Room {
	participants := make([]UserRef, 0, len(r.Participants))
	for _, p := range r.Participants {
		participants = append(participants, NewUserRef(p))
	}

	return Room{
		Id:           r.ExternalId,
		Type:         r.Kind,
		Name:         r.Name,
		Creator:      NewUserRef(r.Creator),
		Participants: participants,
		SeqId:        r.SeqId,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func NewRooms(rooms []database.Room) []Room {
	res := make([]Room, 0, len(rooms))
	for _, r := range rooms {
		res = append(res, NewRoom(r))
	}
	return res
}

func NewMessage(m database.Message) Message {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []database.Attachment{}
	}

	return Message{
		Id:          m.Id,
		RoomId:      m.RoomExternalId,
		SeqId:       m.SeqId,
		Sender:      NewUserRef(m.Sender),
		Content:     m.Content,
		Attachments: attachments,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func NewMessages(msgs []database.Message) []Message {
	res := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		res = append(res, NewMessage(m))
	}
	return res
}
