package domain

import "time"

type (
	StreamID   string
	StreamKind string
)

const (
	StreamKindAudio  StreamKind = "audio"
	StreamKindVideo  StreamKind = "video"
	StreamKindScreen StreamKind = "screen"
)

func (k StreamKind) Valid() bool {
	switch k {
	case StreamKindAudio, StreamKindVideo, StreamKindScreen:
		return true
	}
	return false
}

// StreamDescriptor announces that a participant has media available.
// Subscribers are tracked for bookkeeping only; no media flows through here.
type StreamDescriptor struct {
	ID          StreamID
	Kind        StreamKind
	Owner       ParticipantID
	CreatedAt   time.Time
	Active      bool
	Subscribers map[ParticipantID]struct{}
}

func NewStreamDescriptor(id StreamID, kind StreamKind, owner ParticipantID, at time.Time) *StreamDescriptor {
	return &StreamDescriptor{
		ID:          id,
		Kind:        kind,
		Owner:       owner,
		CreatedAt:   at,
		Active:      true,
		Subscribers: make(map[ParticipantID]struct{}),
	}
}

// AvailableStream is the discovery view of an active descriptor.
type AvailableStream struct {
	ParticipantID ParticipantID `json:"participantId"`
	StreamID      StreamID      `json:"streamId"`
	Kind          StreamKind    `json:"streamKind"`
	CreatedAt     time.Time     `json:"createdAt"`
}

func (d *StreamDescriptor) Available() AvailableStream {
	return AvailableStream{
		ParticipantID: d.Owner,
		StreamID:      d.ID,
		Kind:          d.Kind,
		CreatedAt:     d.CreatedAt,
	}
}
