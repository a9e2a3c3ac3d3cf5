package database

import "time"

const (
	RoomKindRoom = "room"
	RoomKindDM   = "dm"
)

const (
	AttachmentDocument = "document"
	AttachmentFile     = "file"
	AttachmentPoll     = "poll"
	AttachmentThread   = "thread"
)

type User struct {
	Id           int
	Name         string
	Email        string
	PasswordHash string
	Profile      Profile
	Friends      []Friend
	Active       bool
	ConfirmEmail bool
	Otp          Otp
	Addresses    []Address
	MfaSettings  MfaSettings
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Profile struct {
	Bio            string   `json:"bio,omitempty"`
	Interests      []string `json:"interests,omitempty"`
	ProfilePicture string   `json:"profile_picture,omitempty"`
}

type Friend struct {
	FriendId  int      `json:"friend_id"`
	DmRoomIds []string `json:"dm,omitempty"`
}

type Otp struct {
	Code      string     `json:"code,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

type MfaSettings struct {
	Enabled bool     `json:"enabled"`
	Methods []string `json:"methods,omitempty"`
}

// Participant is the minimal user projection loaded with rooms and messages.
type Participant struct {
	Id   int
	Name string
}

type Room struct {
	Id           int
	ExternalId   string
	Kind         string
	Name         string
	Creator      Participant
	Participants []Participant
	SeqId        int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasMember reports whether userId is the creator or a participant.
func (r Room) HasMember(userId int) bool {
	if r.Creator.Id == userId {
		return true
	}
	for _, p := range r.Participants {
		if p.Id == userId {
			return true
		}
	}
	return false
}

type Attachment struct {
	Kind         string `json:"type"`
	Resource     string `json:"resource,omitempty"`
	ThreadRoomId string `json:"thread,omitempty"`
}

type Message struct {
	Id             int
	RoomId         int
	RoomExternalId string
	SeqId          int
	Sender         Participant
	Content        string
	Attachments    []Attachment
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CreateUserParams struct {
	Name         string
	Email        string
	PasswordHash string
}

type UpdateUserParams struct {
	UserId    int
	Name      *string
	Email     *string
	Addresses []Address
}

type CreateRoomParams struct {
	ExternalId string
	Kind       string
	Name       string
	CreatorId  int
}

type CreateMessageParams struct {
	RoomId      int
	SenderId    int
	Content     string
	Attachments []Attachment
}

// ListMessagesParams selects messages of a room in ascending insertion
// order. Before (exclusive seq id) and Limit are ignored when zero; with a
// limit the newest matching messages are returned.
type ListMessagesParams struct {
	RoomId int
	Before int
	Limit  int
}
