package protocol

import (
	"time"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/goccy/go-json"
)

// outbound kinds
const (
	KindRoomInfo           Kind = "room-info"
	KindStatus             Kind = "status"
	KindError              Kind = "error"
	KindPong               Kind = "pong"
	KindRoomStats          Kind = "room-stats"
	KindStreamAvailable    Kind = "stream-available"
	KindParticipantMuted   Kind = "participant_muted"
	KindParticipantUnmuted Kind = "participant_unmuted"
)

type StatusEvent string

const (
	EventJoined StatusEvent = "joined"
	EventLeft   StatusEvent = "left"
)

// RoomInfo is the snapshot a participant receives right after joining.
type RoomInfo struct {
	Type             Kind                     `json:"type"`
	RoomID           domain.RoomID            `json:"roomId"`
	Participants     []domain.Participant     `json:"participants"`
	AvailableStreams []domain.AvailableStream `json:"availableStreams"`
	You              domain.ParticipantID     `json:"yourParticipantId"`
	Timestamp        time.Time                `json:"timestamp"`
}

type Status struct {
	Type          Kind                 `json:"type"`
	RoomID        domain.RoomID        `json:"roomId"`
	Event         StatusEvent          `json:"event"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	Participants  []domain.Participant `json:"participants"`
	Message       string               `json:"message"`
	Timestamp     time.Time            `json:"timestamp"`
}

type Error struct {
	Type    Kind                 `json:"type"`
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Target  domain.ParticipantID `json:"targetParticipantId,omitempty"`
}

type Pong struct {
	Type      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type RoomStats struct {
	Type      Kind             `json:"type"`
	Data      domain.RoomStats `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

type StreamAvailable struct {
	Type       Kind                 `json:"type"`
	Owner      domain.ParticipantID `json:"streamOwnerId"`
	StreamID   domain.StreamID      `json:"streamId"`
	StreamKind domain.StreamKind    `json:"streamKind"`
	Timestamp  time.Time            `json:"timestamp"`
}

type MuteChanged struct {
	Type          Kind                 `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	Timestamp     time.Time            `json:"timestamp"`
}

func NewError(err error, target domain.ParticipantID) Error {
	return Error{Type: KindError, Code: domain.ErrorCode(err), Message: err.Error(), Target: target}
}

func NewStatus(roomID domain.RoomID, event StatusEvent, p domain.Participant, participants []domain.Participant, at time.Time) Status {
	verb := "joined"
	if event == EventLeft {
		verb = "left"
	}
	return Status{
		Type:          KindStatus,
		RoomID:        roomID,
		Event:         event,
		ParticipantID: p.ID,
		Participants:  participants,
		Message:       p.DisplayName() + " " + verb + " the room",
		Timestamp:     at,
	}
}

func NewMuteChanged(muted bool, pid domain.ParticipantID, at time.Time) MuteChanged {
	kind := KindParticipantUnmuted
	if muted {
		kind = KindParticipantMuted
	}
	return MuteChanged{Type: kind, ParticipantID: pid, Timestamp: at}
}

// Encode serialises an outbound message into a frame.
func Encode(v any) (core.Frame, error) {
	return json.Marshal(v)
}
