package domain

import "time"

const DefaultCapacity = 10

type RoomID string

type Room struct {
	ID        RoomID    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
	Capacity  int       `json:"capacity"`
}

// RoomInfo is a read-only listing entry.
type RoomInfo struct {
	Room
	ParticipantCount int `json:"participantCount"`
}

type RoomStats struct {
	RoomID           RoomID `json:"roomId"`
	ParticipantCount int    `json:"participantCount"`
	TotalStreams     int    `json:"totalStreams"`
	ActiveStreams    int    `json:"activeStreams"`
}
