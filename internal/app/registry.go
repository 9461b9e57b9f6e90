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

// roomEntry holds one room's membership under its own lock.
// closed is set, under mu, by the Leave that empties the room; a closed
// entry is already gone from Registry.rooms and must not be joined.
type roomEntry struct {
	mu           sync.Mutex
	room         domain.Room
	participants []domain.Participant
	closed       bool
}

func (e *roomEntry) index(pid domain.ParticipantID) int {
	return slices.IndexFunc(e.participants, func(p domain.Participant) bool { return p.ID == pid })
}

// Registry is the authoritative store of rooms and their participants.
//
// Lock order: roomEntry.mu, then Registry.mu. bindMu is never held together
// with another lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry

	bindMu   sync.Mutex
	bindings map[domain.ParticipantID]domain.RoomID

	defaultCapacity int
	now             func() time.Time
}

func NewRegistry(defaultCapacity int) *Registry {
	if defaultCapacity <= 0 {
		defaultCapacity = domain.DefaultCapacity
	}
	return &Registry{
		rooms:           make(map[domain.RoomID]*roomEntry),
		bindings:        make(map[domain.ParticipantID]domain.RoomID),
		defaultCapacity: defaultCapacity,
		now:             time.Now,
	}
}

// CreateOrGet returns the existing room or creates it with capacity
// (the default capacity when capacity <= 0).
func (r *Registry) CreateOrGet(id domain.RoomID, capacity int) domain.Room {
	e := r.getOrCreate(id, capacity)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room
}

func (r *Registry) getOrCreate(id domain.RoomID, capacity int) *roomEntry {
	r.mu.RLock()
	e, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.rooms[id]; ok {
		return e
	}
	if capacity <= 0 {
		capacity = r.defaultCapacity
	}
	e = &roomEntry{room: domain.Room{ID: id, CreatedAt: r.now(), Capacity: capacity}}
	r.rooms[id] = e
	log.Info().Str("module", "app.registry").Str("room", string(id)).Int("capacity", capacity).Msg("room created")
	return e
}

func (r *Registry) lookup(id domain.RoomID) (*roomEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[id]
	return e, ok
}

// reserve claims the global participant binding before the room is touched,
// so a participant racing into two rooms can win at most one of them.
func (r *Registry) reserve(roomID domain.RoomID, pid domain.ParticipantID) error {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()
	if bound, ok := r.bindings[pid]; ok {
		if bound == roomID {
			return domain.ErrDuplicateParticipant
		}
		return domain.ErrAlreadyInAnotherRoom
	}
	r.bindings[pid] = roomID
	return nil
}

func (r *Registry) release(roomID domain.RoomID, pid domain.ParticipantID) {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()
	if r.bindings[pid] == roomID {
		delete(r.bindings, pid)
	}
}

// Join adds the participant to the room, creating the room if absent.
// Capacity check, uniqueness check and insert happen under the room lock.
func (r *Registry) Join(roomID domain.RoomID, pid domain.ParticipantID, name string) (domain.Participant, error) {
	p, err := domain.NewParticipant(pid, name, r.now())
	if err != nil {
		return domain.Participant{}, err
	}
	if err := r.reserve(roomID, pid); err != nil {
		return domain.Participant{}, err
	}

	for {
		e := r.getOrCreate(roomID, 0)
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			continue
		}
		if e.index(pid) >= 0 {
			e.mu.Unlock()
			r.release(roomID, pid)
			return domain.Participant{}, domain.ErrDuplicateParticipant
		}
		if len(e.participants) >= e.room.Capacity {
			e.mu.Unlock()
			r.release(roomID, pid)
			return domain.Participant{}, domain.ErrRoomFull
		}
		e.participants = append(e.participants, p)
		count := len(e.participants)
		e.mu.Unlock()

		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("participant", string(pid)).Int("count", count).Msg("participant joined")
		return p, nil
	}
}

// Leave removes the participant from whatever room it is bound to.
// The room is deleted in the same step when it becomes empty.
// Calling Leave for a participant that is not a member is a no-op.
func (r *Registry) Leave(pid domain.ParticipantID) (domain.RoomID, bool) {
	r.bindMu.Lock()
	roomID, ok := r.bindings[pid]
	r.bindMu.Unlock()
	if !ok {
		return "", false
	}
	e, ok := r.lookup(roomID)
	if !ok {
		return "", false
	}

	e.mu.Lock()
	idx := e.index(pid)
	if idx < 0 {
		// binding is a reservation of a Join still in flight
		e.mu.Unlock()
		return "", false
	}
	e.participants = slices.Delete(e.participants, idx, idx+1)
	emptied := len(e.participants) == 0
	if emptied {
		e.closed = true
		r.mu.Lock()
		if r.rooms[roomID] == e {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}
	e.mu.Unlock()

	r.release(roomID, pid)

	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("participant", string(pid)).Msg("participant left")
	if emptied {
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room removed")
	}
	return roomID, true
}

// ListParticipants returns the room's participants in join order;
// empty for an unknown room.
func (r *Registry) ListParticipants(roomID domain.RoomID) []domain.Participant {
	e, ok := r.lookup(roomID)
	if !ok {
		return []domain.Participant{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.participants)
}

// RoomOf reports the room the participant is currently a member of.
func (r *Registry) RoomOf(pid domain.ParticipantID) (domain.RoomID, bool) {
	r.bindMu.Lock()
	roomID, ok := r.bindings[pid]
	r.bindMu.Unlock()
	if !ok {
		return "", false
	}
	e, ok := r.lookup(roomID)
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index(pid) < 0 {
		return "", false
	}
	return roomID, true
}

func (r *Registry) Room(roomID domain.RoomID) (domain.Room, bool) {
	e, ok := r.lookup(roomID)
	if !ok {
		return domain.Room{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.Room{}, false
	}
	return e.room, true
}

// SetAudioEnabled records the participant's mute state.
func (r *Registry) SetAudioEnabled(roomID domain.RoomID, pid domain.ParticipantID, enabled bool) bool {
	e, ok := r.lookup(roomID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.index(pid)
	if idx < 0 {
		return false
	}
	e.participants[idx].AudioEnabled = enabled
	return true
}

// MarkSlow records one dropped broadcast against the participant and
// returns the new count.
func (r *Registry) MarkSlow(roomID domain.RoomID, pid domain.ParticipantID) (int, bool) {
	e, ok := r.lookup(roomID)
	if !ok {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.index(pid)
	if idx < 0 {
		return 0, false
	}
	e.participants[idx].SlowSends++
	return e.participants[idx].SlowSends, true
}

// List returns every live room ordered by creation time.
func (r *Registry) List() []domain.RoomInfo {
	r.mu.RLock()
	entries := lo.Values(r.rooms)
	r.mu.RUnlock()

	out := make([]domain.RoomInfo, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.closed {
			out = append(out, domain.RoomInfo{Room: e.room, ParticipantCount: len(e.participants)})
		}
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b domain.RoomInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
