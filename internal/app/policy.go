package app

import "github.com/dkeye/meetroom/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
)

// Policy decides what happens to a broadcast recipient whose send failed.
// A failed recipient never stops delivery to the rest of the room and is
// never disconnected from here; its coordinator owns the connection.
type Policy interface {
	OnBackPressure(roomID domain.RoomID, pid domain.ParticipantID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, domain.ParticipantID) BackpressureAction {
	return MarkSlow
}
