package orch

import (
	"errors"

	"github.com/dkeye/meetroom/internal/domain"
	"github.com/dkeye/meetroom/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Dispatch routes one inbound message from pid. Nothing here closes a
// connection: failures are reported to the sender or logged.
func (o *Orchestrator) Dispatch(roomID domain.RoomID, pid domain.ParticipantID, msg protocol.Inbound) {
	log.Debug().Str("module", "orch").Str("room", string(roomID)).Str("participant", string(pid)).
		Str("type", string(msg.Kind())).Msg("dispatch")

	switch m := msg.(type) {
	case *protocol.Signal:
		o.forward(roomID, pid, m)
	case protocol.StreamAdded:
		o.OnStreamAdded(roomID, pid, m)
	case protocol.SubscribeToStream:
		o.OnSubscribe(roomID, pid, m)
	case protocol.Mute:
		o.OnMuteChanged(roomID, pid, true)
	case protocol.Unmute:
		o.OnMuteChanged(roomID, pid, false)
	case protocol.Ping:
		o.reply(roomID, pid, protocol.Pong{Type: protocol.KindPong, Timestamp: o.Now()})
	case protocol.GetRoomStats:
		o.reply(roomID, pid, protocol.RoomStats{Type: protocol.KindRoomStats, Data: o.Stats(roomID), Timestamp: o.Now()})
	default:
		log.Warn().Str("module", "orch").Str("type", string(msg.Kind())).Msg("unhandled message dropped")
	}
}

// forward relays offer/answer/ice-candidate to its target only. The
// payload goes out as sent even when it could not be decoded.
func (o *Orchestrator) forward(roomID domain.RoomID, from domain.ParticipantID, m *protocol.Signal) {
	ev := log.Debug().Str("module", "orch").Str("room", string(roomID)).Str("participant", string(from)).
		Str("target", string(m.Target)).Str("type", string(m.Kind()))
	switch {
	case m.PayloadErr != nil:
		ev.AnErr("payload", m.PayloadErr).Msg("forwarding undecoded payload")
	case m.Kind() == protocol.KindICECandidate:
		ev.Str("sdpMid", lo.FromPtr(m.Candidate.SDPMid)).Uint16("sdpMLineIndex", lo.FromPtr(m.Candidate.SDPMLineIndex)).Msg("candidate")
	default:
		ev.Stringer("sdpType", m.SDP.Type).Int("sdpBytes", len(m.SDP.SDP)).Msg("session description")
	}

	frame, err := m.Forward(from, o.Now())
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", string(m.Kind())).Msg("encode forward")
		return
	}

	err = o.Directory.Deliver(roomID, m.Target, frame)
	switch {
	case err == nil:
		log.Debug().Str("module", "orch").Str("room", string(roomID)).Str("participant", string(from)).
			Str("target", string(m.Target)).Str("type", string(m.Kind())).Msg("forwarded")
	case errors.Is(err, domain.ErrTargetNotFound):
		log.Warn().Str("module", "orch").Str("room", string(roomID)).Str("participant", string(from)).
			Str("target", string(m.Target)).Msg("forward target not found")
		o.reply(roomID, from, protocol.NewError(err, m.Target))
	default:
		log.Warn().Err(err).Str("module", "orch").Str("room", string(roomID)).Str("target", string(m.Target)).Msg("forward not delivered")
	}
}
