package app

import (
	"fmt"
	"sync"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Directory maps (room, participant) to the connection used to deliver
// messages. Entries are non-owning: only the connection's coordinator
// closes it, and it must unregister before doing so.
type Directory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.ParticipantID]core.SignalConnection
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[domain.RoomID]map[domain.ParticipantID]core.SignalConnection)}
}

func (d *Directory) Register(roomID domain.RoomID, pid domain.ParticipantID, conn core.SignalConnection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[domain.ParticipantID]core.SignalConnection)
		d.rooms[roomID] = members
	}
	members[pid] = conn
	log.Debug().Str("module", "app.directory").Str("room", string(roomID)).Str("participant", string(pid)).Msg("registered")
}

func (d *Directory) Unregister(roomID domain.RoomID, pid domain.ParticipantID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.rooms[roomID]
	if !ok {
		return
	}
	delete(members, pid)
	if len(members) == 0 {
		delete(d.rooms, roomID)
	}
	log.Debug().Str("module", "app.directory").Str("room", string(roomID)).Str("participant", string(pid)).Msg("unregistered")
}

func (d *Directory) Get(roomID domain.RoomID, pid domain.ParticipantID) (core.SignalConnection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conn, ok := d.rooms[roomID][pid]
	return conn, ok
}

// AllExcept snapshots the room's recipients, leaving out excluded.
// An empty excluded keeps everyone.
func (d *Directory) AllExcept(roomID domain.RoomID, excluded domain.ParticipantID) []core.Recipient {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members := d.rooms[roomID]
	out := make([]core.Recipient, 0, len(members))
	for pid, conn := range members {
		if pid == excluded {
			continue
		}
		out = append(out, core.Recipient{ParticipantID: pid, Conn: conn})
	}
	return out
}

// Deliver sends one frame to a single participant.
func (d *Directory) Deliver(roomID domain.RoomID, pid domain.ParticipantID, frame core.Frame) error {
	conn, ok := d.Get(roomID, pid)
	if !ok {
		return domain.ErrTargetNotFound
	}
	if err := conn.TrySend(frame); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	return nil
}

// Broadcast fans a frame out to a snapshot of the room taken now.
// Failed recipients are reported, never retried.
func (d *Directory) Broadcast(roomID domain.RoomID, excluded domain.ParticipantID, frame core.Frame) core.PublishResult {
	res := core.PublishResult{}
	for _, rcpt := range d.AllExcept(roomID, excluded) {
		if err := rcpt.Conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.directory").Str("room", string(roomID)).Str("participant", string(rcpt.ParticipantID)).Msg("broadcast delivery failed")
			res.Dropped = append(res.Dropped, rcpt.ParticipantID)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.directory").Str("room", string(roomID)).Str("from", string(excluded)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
