package app

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/meetroom/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type ownerStreams map[domain.StreamID]*domain.StreamDescriptor

// catalogRoom follows the same closing rule as roomEntry: the step that
// removes its last participant marks it closed and drops it from the map.
type catalogRoom struct {
	mu     sync.Mutex
	owners map[domain.ParticipantID]ownerStreams
	closed bool
}

// Catalog tracks announced media streams per room and participant.
// It never sees media, only descriptors and subscriber bookkeeping.
type Catalog struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*catalogRoom
	now   func() time.Time
}

func NewCatalog() *Catalog {
	return &Catalog{
		rooms: make(map[domain.RoomID]*catalogRoom),
		now:   time.Now,
	}
}

func (c *Catalog) lookup(roomID domain.RoomID) (*catalogRoom, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cr, ok := c.rooms[roomID]
	return cr, ok
}

func (c *Catalog) getOrCreate(roomID domain.RoomID) *catalogRoom {
	if cr, ok := c.lookup(roomID); ok {
		return cr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cr, ok := c.rooms[roomID]; ok {
		return cr
	}
	cr := &catalogRoom{owners: make(map[domain.ParticipantID]ownerStreams)}
	c.rooms[roomID] = cr
	return cr
}

// AddParticipant opens an empty stream set for a freshly joined participant.
func (c *Catalog) AddParticipant(roomID domain.RoomID, pid domain.ParticipantID) {
	for {
		cr := c.getOrCreate(roomID)
		cr.mu.Lock()
		if cr.closed {
			cr.mu.Unlock()
			continue
		}
		if _, ok := cr.owners[pid]; !ok {
			cr.owners[pid] = make(ownerStreams)
		}
		cr.mu.Unlock()
		return
	}
}

// Announce records a new active stream for pid.
func (c *Catalog) Announce(roomID domain.RoomID, pid domain.ParticipantID, streamID domain.StreamID, kind domain.StreamKind) (domain.AvailableStream, error) {
	cr, ok := c.lookup(roomID)
	if !ok {
		return domain.AvailableStream{}, domain.ErrNotAMember
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	streams, ok := cr.owners[pid]
	if cr.closed || !ok {
		return domain.AvailableStream{}, domain.ErrNotAMember
	}
	if _, exists := streams[streamID]; exists {
		return domain.AvailableStream{}, domain.ErrDuplicateStream
	}
	d := domain.NewStreamDescriptor(streamID, kind, pid, c.now())
	streams[streamID] = d

	log.Info().Str("module", "app.catalog").Str("room", string(roomID)).Str("participant", string(pid)).
		Str("stream", string(streamID)).Str("kind", string(kind)).Msg("stream announced")
	return d.Available(), nil
}

// ListAvailable returns the room's active streams not owned by excluding,
// oldest first. An empty excluding lists every active stream.
func (c *Catalog) ListAvailable(roomID domain.RoomID, excluding domain.ParticipantID) []domain.AvailableStream {
	out := []domain.AvailableStream{}
	cr, ok := c.lookup(roomID)
	if !ok {
		return out
	}
	cr.mu.Lock()
	for owner, streams := range cr.owners {
		if owner == excluding {
			continue
		}
		for _, d := range streams {
			if d.Active {
				out = append(out, d.Available())
			}
		}
	}
	cr.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.AvailableStream) int {
		return cmp.Or(
			a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.ParticipantID, b.ParticipantID),
			cmp.Compare(a.StreamID, b.StreamID),
		)
	})
	return out
}

// Subscribe adds subscriber to the owner's stream. Losing the race against
// the stream's removal is expected: the error is only for logging.
func (c *Catalog) Subscribe(roomID domain.RoomID, owner domain.ParticipantID, streamID domain.StreamID, subscriber domain.ParticipantID) error {
	cr, ok := c.lookup(roomID)
	if !ok {
		return domain.ErrNotAMember
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if _, ok := cr.owners[subscriber]; cr.closed || !ok {
		return domain.ErrNotAMember
	}
	d, ok := cr.owners[owner][streamID]
	if !ok || !d.Active {
		return domain.ErrStreamNotFound
	}
	d.Subscribers[subscriber] = struct{}{}

	log.Info().Str("module", "app.catalog").Str("room", string(roomID)).Str("participant", string(subscriber)).
		Str("owner", string(owner)).Str("stream", string(streamID)).Msg("subscribed")
	return nil
}

// Subscribers lists who subscribed to the stream, sorted.
func (c *Catalog) Subscribers(roomID domain.RoomID, owner domain.ParticipantID, streamID domain.StreamID) []domain.ParticipantID {
	cr, ok := c.lookup(roomID)
	if !ok {
		return nil
	}
	cr.mu.Lock()
	d, ok := cr.owners[owner][streamID]
	var out []domain.ParticipantID
	if ok {
		out = lo.Keys(d.Subscribers)
	}
	cr.mu.Unlock()
	slices.Sort(out)
	return out
}

// DeactivateAll retires every stream pid owns, drops pid from the
// subscriber sets of the remaining streams and prunes pid's entry.
// It returns the number of streams that were deactivated.
func (c *Catalog) DeactivateAll(roomID domain.RoomID, pid domain.ParticipantID) int {
	cr, ok := c.lookup(roomID)
	if !ok {
		return 0
	}
	cr.mu.Lock()
	streams, ok := cr.owners[pid]
	if !ok {
		cr.mu.Unlock()
		return 0
	}
	for _, d := range streams {
		d.Active = false
	}
	delete(cr.owners, pid)
	for _, other := range cr.owners {
		for _, d := range other {
			delete(d.Subscribers, pid)
		}
	}
	emptied := len(cr.owners) == 0
	if emptied {
		cr.closed = true
		c.mu.Lock()
		if c.rooms[roomID] == cr {
			delete(c.rooms, roomID)
		}
		c.mu.Unlock()
	}
	cr.mu.Unlock()

	log.Info().Str("module", "app.catalog").Str("room", string(roomID)).Str("participant", string(pid)).
		Int("streams", len(streams)).Bool("room_removed", emptied).Msg("streams deactivated")
	return len(streams)
}

// Stats reports the catalog's view of the room. ok is false for a room the
// catalog does not know.
func (c *Catalog) Stats(roomID domain.RoomID) (domain.RoomStats, bool) {
	stats := domain.RoomStats{RoomID: roomID}
	cr, ok := c.lookup(roomID)
	if !ok {
		return stats, false
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.closed {
		return stats, false
	}
	stats.ParticipantCount = len(cr.owners)
	for _, streams := range cr.owners {
		stats.TotalStreams += len(streams)
		stats.ActiveStreams += lo.CountBy(lo.Values(streams), func(d *domain.StreamDescriptor) bool { return d.Active })
	}
	return stats, true
}
