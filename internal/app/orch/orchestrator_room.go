package orch

import (
	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/dkeye/meetroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join admits pid into the room and makes conn reachable for it. On
// success the new participant gets the room snapshot and the rest of the
// room gets a joined status. On failure nothing was created.
func (o *Orchestrator) Join(roomID domain.RoomID, pid domain.ParticipantID, name string, conn core.SignalConnection) (domain.Participant, error) {
	p, err := o.Registry.Join(roomID, pid, name)
	if err != nil {
		log.Info().Err(err).Str("module", "orch").Str("room", string(roomID)).Str("participant", string(pid)).Msg("join rejected")
		return domain.Participant{}, err
	}
	o.Directory.Register(roomID, pid, conn)
	o.Catalog.AddParticipant(roomID, pid)

	participants := o.Registry.ListParticipants(roomID)
	o.reply(roomID, pid, protocol.RoomInfo{
		Type:             protocol.KindRoomInfo,
		RoomID:           roomID,
		Participants:     participants,
		AvailableStreams: o.Catalog.ListAvailable(roomID, pid),
		You:              pid,
		Timestamp:        o.Now(),
	})
	o.broadcast(roomID, pid, protocol.NewStatus(roomID, protocol.EventJoined, p, participants, o.Now()))
	return p, nil
}

// Leave runs the cleanup for a departing participant. It cannot fail and
// is safe to call for a participant that already left.
//
// The derived indices are pruned while the membership still pins pid, so
// a reconnect of the same id cannot interleave with this cleanup.
func (o *Orchestrator) Leave(roomID domain.RoomID, p domain.Participant) (domain.RoomID, bool) {
	o.Directory.Unregister(roomID, p.ID)
	o.Catalog.DeactivateAll(roomID, p.ID)
	left, ok := o.Registry.Leave(p.ID)
	if !ok {
		return "", false
	}

	remaining := o.Registry.ListParticipants(left)
	res := o.broadcast(left, "", protocol.NewStatus(left, protocol.EventLeft, p, remaining, o.Now()))
	log.Info().Str("module", "orch").Str("room", string(left)).Str("participant", string(p.ID)).
		Int("notified", res.SendTo).Msg("participant cleaned up")
	return left, true
}
