package orch

import (
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/dkeye/meetroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) OnStreamAdded(roomID domain.RoomID, pid domain.ParticipantID, m protocol.StreamAdded) {
	av, err := o.Catalog.Announce(roomID, pid, m.StreamID, m.StreamKind)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(roomID)).Str("participant", string(pid)).
			Str("stream", string(m.StreamID)).Msg("stream announce ignored")
		return
	}
	o.broadcast(roomID, pid, protocol.StreamAvailable{
		Type:       protocol.KindStreamAvailable,
		Owner:      av.ParticipantID,
		StreamID:   av.StreamID,
		StreamKind: av.Kind,
		Timestamp:  o.Now(),
	})
}

// OnSubscribe only records the subscription; media negotiation happens
// between the peers.
func (o *Orchestrator) OnSubscribe(roomID domain.RoomID, pid domain.ParticipantID, m protocol.SubscribeToStream) {
	if err := o.Catalog.Subscribe(roomID, m.Owner, m.StreamID, pid); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(roomID)).Str("participant", string(pid)).
			Str("owner", string(m.Owner)).Str("stream", string(m.StreamID)).Msg("subscribe ignored")
	}
}

func (o *Orchestrator) OnMuteChanged(roomID domain.RoomID, pid domain.ParticipantID, muted bool) {
	if !o.Registry.SetAudioEnabled(roomID, pid, !muted) {
		log.Warn().Str("module", "orch").Str("room", string(roomID)).Str("participant", string(pid)).Msg("mute from non-member")
		return
	}
	o.broadcast(roomID, pid, protocol.NewMuteChanged(muted, pid, o.Now()))
}
