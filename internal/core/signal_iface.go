//go:generate go run go.uber.org/mock/mockgen -source=signal_iface.go -destination=mocks/mock_signal_iface.go -package=mocks
package core

import "github.com/dkeye/meetroom/internal/domain"

// Frame is one encoded signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Recipient pairs a directory entry with its participant for fan-out.
type Recipient struct {
	ParticipantID domain.ParticipantID
	Conn          SignalConnection
}

// PublishResult reports delivery stats of a broadcast.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ParticipantID
}
