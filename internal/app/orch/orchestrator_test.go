package orch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/core/mocks"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/dkeye/meetroom/internal/protocol"
	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

// recorder is a connection that keeps every frame it was sent.
type recorder struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) messages(t *testing.T) []map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, 0, len(r.frames))
	for _, f := range r.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (r *recorder) ofType(t *testing.T, kind protocol.Kind) []map[string]any {
	return lo.Filter(r.messages(t), func(m map[string]any, _ int) bool { return m["type"] == string(kind) })
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

func newTestOrchestrator() *Orchestrator {
	o := New(app.NewRegistry(10), app.NewDirectory(), app.NewCatalog())
	o.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return o
}

func mustParse(t *testing.T, frame string) protocol.Inbound {
	t.Helper()
	msg, err := protocol.Parse([]byte(frame))
	require.NoError(t, err)
	return msg
}

func join(t *testing.T, o *Orchestrator, roomID domain.RoomID, pid domain.ParticipantID) (*recorder, domain.Participant) {
	t.Helper()
	conn := &recorder{}
	p, err := o.Join(roomID, pid, "", conn)
	require.NoError(t, err)
	return conn, p
}

func Test_Orchestrator_Join(t *testing.T) {
	req := require.New(t)
	o := newTestOrchestrator()

	// Given a alone in r1
	a, _ := join(t, o, "r1", "a")
	infos := a.ofType(t, protocol.KindRoomInfo)
	req.Len(infos, 1)
	req.Equal("a", infos[0]["yourParticipantId"])
	req.Len(infos[0]["participants"], 1)

	// When b joins
	a.reset()
	b, _ := join(t, o, "r1", "b")

	// Then b gets the snapshot and a the joined status
	infos = b.ofType(t, protocol.KindRoomInfo)
	req.Len(infos, 1)
	req.Len(infos[0]["participants"], 2)
	req.Empty(b.ofType(t, protocol.KindStatus))

	statuses := a.ofType(t, protocol.KindStatus)
	req.Len(statuses, 1)
	req.Equal("joined", statuses[0]["event"])
	req.Equal("b", statuses[0]["participantId"])
}

func Test_Orchestrator_Join_Rejected(t *testing.T) {
	req := require.New(t)
	o := newTestOrchestrator()
	o.Registry.CreateOrGet("r1", 1)
	join(t, o, "r1", "a")

	// When b tries to join a full room
	_, err := o.Join("r1", "b", "", &recorder{})

	// Then nothing was created for b
	req.ErrorIs(err, domain.ErrRoomFull)
	_, ok := o.Directory.Get("r1", "b")
	req.False(ok)
	req.Equal(1, o.Stats("r1").ParticipantCount)
}

func Test_Orchestrator_Forward(t *testing.T) {
	req := require.New(t)
	o := newTestOrchestrator()
	a, _ := join(t, o, "r1", "a")
	b, _ := join(t, o, "r1", "b")
	c, _ := join(t, o, "r1", "c")
	for _, r := range []*recorder{a, b, c} {
		r.reset()
	}

	// When a sends an offer to b
	raw, err := json.Marshal(map[string]any{"type": "offer", "targetParticipantId": "b", "sdp": testSDP})
	req.NoError(err)
	o.Dispatch("r1", "a", mustParse(t, string(raw)))

	// Then only b receives it, with a as sender
	offers := b.ofType(t, protocol.KindOffer)
	req.Len(offers, 1)
	req.Equal("a", offers[0]["fromParticipantId"])
	req.Equal(testSDP, offers[0]["sdp"])
	req.NotEmpty(offers[0]["timestamp"])
	req.Empty(a.messages(t))
	req.Empty(c.messages(t))

	// When a sends an ice candidate to someone who is not there
	o.Dispatch("r1", "a", mustParse(t, `{"type":"ice-candidate","targetParticipantId":"ghost","candidate":{"candidate":"c"}}`))

	// Then a is told, nobody else hears about it
	errs := a.ofType(t, protocol.KindError)
	req.Len(errs, 1)
	req.Equal("target_not_found", errs[0]["code"])
	req.Equal("ghost", errs[0]["targetParticipantId"])
	req.Len(b.messages(t), 1)
	req.Empty(c.messages(t))

	// When b answers with an object-shaped sdp that does not parse
	a.reset()
	o.Dispatch("r1", "b", mustParse(t, `{"type":"answer","targetParticipantId":"a","sdp":{"type":"answer","sdp":"v=0"}}`))

	// Then a still gets it as sent
	answers := a.ofType(t, protocol.KindAnswer)
	req.Len(answers, 1)
	req.Equal("b", answers[0]["fromParticipantId"])
	req.Equal(map[string]any{"type": "answer", "sdp": "v=0"}, answers[0]["sdp"])
	req.Empty(a.ofType(t, protocol.KindError))
}

func Test_Orchestrator_StreamAdded(t *testing.T) {
	req := require.New(t)
	o := newTestOrchestrator()

	// Given a announced s1 before b arrived
	a, _ := join(t, o, "r1", "a")
	o.Dispatch("r1", "a", mustParse(t, `{"type":"stream-added","streamId":"s1","streamKind":"audio"}`))
	b, _ := join(t, o, "r1", "b")

	// Then b's snapshot lists it and a's own view does not
	infos := b.ofType(t, protocol.KindRoomInfo)
	req.Len(infos, 1)
	req.Len(infos[0]["availableStreams"], 1)
	available := o.Catalog.ListAvailable("r1", "b")
	req.Len(available, 1)
	req.Equal(domain.ParticipantID("a"), available[0].ParticipantID)
	req.Equal(domain.StreamID("s1"), available[0].StreamID)
	req.Equal(domain.StreamKindAudio, available[0].Kind)
	req.Empty(o.Catalog.ListAvailable("r1", "a"))
	req.Empty(a.ofType(t, protocol.KindStreamAvailable))

	// When a announces another stream
	o.Dispatch("r1", "a", mustParse(t, `{"type":"stream-added","streamId":"cam","streamKind":"video"}`))

	// Then b is notified, a is not
	avail := b.ofType(t, protocol.KindStreamAvailable)
	req.Len(avail, 1)
	req.Equal("a", avail[0]["streamOwnerId"])
	req.Equal("cam", avail[0]["streamId"])
	req.Equal("video", avail[0]["streamKind"])
	req.Empty(a.ofType(t, protocol.KindStreamAvailable))

	// When a repeats the announcement nothing is broadcast
	o.Dispatch("r1", "a", mustParse(t, `{"type":"stream-added","streamId":"cam","streamKind":"video"}`))
	req.Len(b.ofType(t, protocol.KindStreamAvailable), 1)

	// When b subscribes
	o.Dispatch("r1", "b", mustParse(t, `{"type":"subscribe-to-stream","streamOwnerId":"a","streamId":"cam"}`))
	req.Equal([]domain.ParticipantID{"b"}, o.Catalog.Subscribers("r1", "a", "cam"))

	// a subscribing to a stream that never existed is harmless
	o.Dispatch("r1", "a", mustParse(t, `{"type":"subscribe-to-stream","streamOwnerId":"b","streamId":"nope"}`))
	req.Empty(a.ofType(t, protocol.KindError))
}

func Test_Orchestrator_Mute(t *testing.T) {
	req := require.New(t)
	o := newTestOrchestrator()
	a, _ := join(t, o, "r1", "a")
	b, _ := join(t, o, "r1", "b")
	c, _ := join(t, o, "r1", "c")

	o.Dispatch("r1", "a", protocol.Mute{})

	req.Empty(a.ofType(t, protocol.KindParticipantMuted))
	for _, r := range []*recorder{b, c} {
		muted := r.ofType(t, protocol.KindParticipantMuted)
		req.Len(muted, 1)
		req.Equal("a", muted[0]["participantId"])
	}
	req.False(o.Registry.ListParticipants("r1")[0].AudioEnabled)

	o.Dispatch("r1", "a", protocol.Unmute{})
	req.Len(b.ofType(t, protocol.KindParticipantUnmuted), 1)
	req.True(o.Registry.ListParticipants("r1")[0].AudioEnabled)
}

func Test_Orchestrator_Ping(t *testing.T) {
	req := require.New(t)
	o := newTestOrchestrator()
	a, _ := join(t, o, "r1", "a")
	b, _ := join(t, o, "r1", "b")
	b.reset()

	o.Dispatch("r1", "a", protocol.Ping{})

	req.Len(a.ofType(t, protocol.KindPong), 1)
	req.Empty(b.messages(t))
}

func Test_Orchestrator_Leave(t *testing.T) {
	req := require.New(t)
	o := newTestOrchestrator()

	// Given a and b in r1, a with a stream b subscribed to
	_, pa := join(t, o, "r1", "a")
	b, _ := join(t, o, "r1", "b")
	o.Dispatch("r1", "a", mustParse(t, `{"type":"stream-added","streamId":"s1"}`))
	o.Dispatch("r1", "b", mustParse(t, `{"type":"subscribe-to-stream","streamOwnerId":"a","streamId":"s1"}`))
	b.reset()

	// When a disconnects
	left, ok := o.Leave("r1", pa)
	req.True(ok)
	req.Equal(domain.RoomID("r1"), left)

	// Then b receives exactly one left status naming a
	statuses := b.ofType(t, protocol.KindStatus)
	req.Len(statuses, 1)
	req.Equal("left", statuses[0]["event"])
	req.Equal("a", statuses[0]["participantId"])
	req.Len(statuses[0]["participants"], 1)

	// Then a later get-room-stats from b reports one participant
	o.Dispatch("r1", "b", protocol.GetRoomStats{})
	stats := b.ofType(t, protocol.KindRoomStats)
	req.Len(stats, 1)
	data := stats[0]["data"].(map[string]any)
	req.EqualValues(1, data["participantCount"])
	req.EqualValues(0, data["activeStreams"])

	// Then every index forgot a
	_, ok = o.Directory.Get("r1", "a")
	req.False(ok)
	req.Empty(o.Catalog.ListAvailable("r1", "b"))

	// A second cleanup is a no-op and broadcasts nothing
	_, ok = o.Leave("r1", pa)
	req.False(ok)
	req.Len(b.ofType(t, protocol.KindStatus), 1)
}

func Test_Orchestrator_LastLeaveRemovesRoom(t *testing.T) {
	req := require.New(t)
	o := newTestOrchestrator()
	_, pa := join(t, o, "r1", "a")

	_, ok := o.Leave("r1", pa)
	req.True(ok)

	_, ok = o.Registry.Room("r1")
	req.False(ok)
	_, ok = o.Catalog.Stats("r1")
	req.False(ok)
	req.Empty(o.Directory.AllExcept("r1", ""))
}

func Test_Orchestrator_BroadcastSurvivesDeadPeer(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	o := newTestOrchestrator()

	// Given c's transport is already gone
	dead := mocks.NewMockSignalConnection(ctrl)
	dead.EXPECT().TrySend(gomock.Any()).Return(errors.New("connection closed")).AnyTimes()
	a, _ := join(t, o, "r1", "a")
	_, err := o.Join("r1", "c", "", dead)
	req.NoError(err)
	b, _ := join(t, o, "r1", "b")

	// When a mutes
	o.Dispatch("r1", "a", protocol.Mute{})

	// Then b still hears about it
	req.Len(b.ofType(t, protocol.KindParticipantMuted), 1)
	req.Empty(a.ofType(t, protocol.KindParticipantMuted))

	// And c has both dropped broadcasts (b's join, a's mute) on record
	slow := lo.SliceToMap(o.Registry.ListParticipants("r1"), func(p domain.Participant) (domain.ParticipantID, int) {
		return p.ID, p.SlowSends
	})
	req.Equal(map[domain.ParticipantID]int{"a": 0, "b": 0, "c": 2}, slow)
}
