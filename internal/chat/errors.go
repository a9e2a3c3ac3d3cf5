package chat

import (
	"errors"
	"net/http"
)

// Error is an operational failure: an expected condition whose message is
// safe to show to the caller as-is.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code int, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

var (
	ErrRoomNotFound         = newError(http.StatusNotFound, "Room not found")
	ErrNotParticipant       = newError(http.StatusForbidden, "You are not a participant in this room")
	ErrRoomNameRequired     = newError(http.StatusBadRequest, "Room name is required")
	ErrInvalidRoomType      = newError(http.StatusBadRequest, "Room type must be one of: dm, room")
	ErrAlreadyJoined        = newError(http.StatusBadRequest, "You are already in this room")
	ErrCreatorCannotLeave   = newError(http.StatusBadRequest, "Room creator cannot leave the room")
	ErrNotRoomCreator       = newError(http.StatusForbidden, "You are not authorized to delete this room")
	ErrContentRequired      = newError(http.StatusBadRequest, "Message content is required")
	ErrInvalidAttachment    = newError(http.StatusBadRequest, "Attachment type must be one of: document, file, poll, thread")
	ErrMessageNotFound      = newError(http.StatusNotFound, "Message not found")
	ErrEditForeignMessage   = newError(http.StatusForbidden, "You can only edit your own messages")
	ErrDeleteForeignMessage = newError(http.StatusForbidden, "You can only delete your own messages")
)

// AsError returns the operational error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
