package orch

import (
	"time"

	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/dkeye/meetroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Orchestrator ties the registry, the directory and the catalog together.
// It holds no state of its own and is shared by every connection.
type Orchestrator struct {
	Registry  *app.Registry
	Directory *app.Directory
	Catalog   *app.Catalog
	Policy    app.Policy
	Now       func() time.Time
}

func New(registry *app.Registry, directory *app.Directory, catalog *app.Catalog) *Orchestrator {
	return &Orchestrator{
		Registry:  registry,
		Directory: directory,
		Catalog:   catalog,
		Policy:    app.SimplePolicy{},
		Now:       time.Now,
	}
}

// Stats combines the catalog's stream counters with the registry's
// authoritative participant count.
func (o *Orchestrator) Stats(roomID domain.RoomID) domain.RoomStats {
	stats, _ := o.Catalog.Stats(roomID)
	stats.RoomID = roomID
	stats.ParticipantCount = len(o.Registry.ListParticipants(roomID))
	return stats
}

func (o *Orchestrator) reply(roomID domain.RoomID, pid domain.ParticipantID, v any) {
	frame, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode reply")
		return
	}
	if err := o.Directory.Deliver(roomID, pid, frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(roomID)).Str("participant", string(pid)).Msg("reply not delivered")
	}
}

// broadcast sends v to everyone in the room but exclude.
func (o *Orchestrator) broadcast(roomID domain.RoomID, exclude domain.ParticipantID, v any) core.PublishResult {
	frame, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode broadcast")
		return core.PublishResult{}
	}
	res := o.Directory.Broadcast(roomID, exclude, frame)
	if o.Policy == nil {
		return res
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(roomID, slow) {
		case app.MarkSlow:
			if n, ok := o.Registry.MarkSlow(roomID, slow); ok {
				log.Debug().Str("module", "orch").Str("room", string(roomID)).Str("participant", string(slow)).
					Int("slowSends", n).Msg("participant marked slow")
			}
		case app.NoAction:
		}
	}
	return res
}
