package domain

import "errors"

var (
	// join-time, fatal to the attempted connection
	ErrRoomFull             = errors.New("room is full")
	ErrDuplicateParticipant = errors.New("participant already in room")
	ErrAlreadyInAnotherRoom = errors.New("participant already in another room")
	ErrInvalidParticipant   = errors.New("invalid participant")
	ErrRateLimited          = errors.New("too many join attempts")

	// in-session, never fatal
	ErrTargetNotFound   = errors.New("target participant not found")
	ErrNotAMember       = errors.New("participant is not a member of the room")
	ErrStreamNotFound   = errors.New("stream not found")
	ErrDuplicateStream  = errors.New("stream already announced")
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownKind      = errors.New("unknown message kind")
	ErrDeliveryFailed   = errors.New("delivery failed")
)

// ErrorCode maps an error to the code carried in error frames.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrDuplicateParticipant):
		return "duplicate_participant"
	case errors.Is(err, ErrAlreadyInAnotherRoom):
		return "already_in_another_room"
	case errors.Is(err, ErrInvalidParticipant):
		return "invalid_participant"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTargetNotFound):
		return "target_not_found"
	case errors.Is(err, ErrMalformedMessage):
		return "malformed_message"
	default:
		return "internal"
	}
}
