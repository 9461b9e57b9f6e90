package http

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/meetroom/internal/adapters/signal"
	"github.com/dkeye/meetroom/internal/analysis"
	"github.com/dkeye/meetroom/internal/analysis/mocks"
	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/app/orch"
	"github.com/dkeye/meetroom/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

var wavSegment = append([]byte("RIFF\x24\x08\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x80\x3e\x00\x00\x00\x7d\x00\x00\x02\x00\x10\x00data\x00\x08\x00\x00"), make([]byte, 2048)...)

type testServer struct {
	router *gin.Engine
	orch   *orch.Orchestrator
	signal *signal.SignalWSController
}

func newTestServer(t *testing.T, ctx context.Context, pipeline *analysis.Pipeline) *testServer {
	t.Helper()
	o := orch.New(app.NewRegistry(10), app.NewDirectory(), app.NewCatalog())
	opts := signal.DefaultOptions()
	ctl := signal.NewSignalWSController(o, signal.NewJoinRateLimiter(100, time.Minute), opts)
	cfg := &config.Config{Mode: "test", Secret: "test-secret", StaticPath: t.TempDir()}
	r := SetupRouter(ctx, cfg, &Handlers{Orch: o, Signal: ctl, Pipeline: pipeline})
	return &testServer{router: r, orch: o, signal: ctl}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	return m
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readType reads frames until one of the wanted type arrives.
func readType(t *testing.T, conn *websocket.Conn, kind string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if m := decode(t, data); m["type"] == kind {
			return m
		}
	}
}

func Test_Router_Health(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, context.Background(), nil)

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	req.Equal(http.StatusOK, w.Code)
	req.Equal(map[string]any{"status": "ok", "service": Service, "version": Version}, decode(t, w.Body.Bytes()))
	req.NotEmpty(w.Result().Cookies())
}

func Test_Router_Rooms(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, context.Background(), nil)

	// Given a room where b subscribed to a's stream
	_, err := s.orch.Registry.Join("r1", "a", "Alice")
	req.NoError(err)
	s.orch.Catalog.AddParticipant("r1", "a")
	_, err = s.orch.Registry.Join("r1", "b", "Bob")
	req.NoError(err)
	s.orch.Catalog.AddParticipant("r1", "b")
	_, err = s.orch.Catalog.Announce("r1", "a", "s1", "audio")
	req.NoError(err)
	req.NoError(s.orch.Catalog.Subscribe("r1", "a", "s1", "b"))

	// When rooms are listed
	w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	req.Equal(http.StatusOK, w.Code)
	rooms := decode(t, w.Body.Bytes())["rooms"].([]any)
	req.Len(rooms, 1)
	room := rooms[0].(map[string]any)
	req.Equal("r1", room["roomId"])
	req.EqualValues(2, room["participantCount"])
	req.EqualValues(10, room["capacity"])

	// When the room is inspected
	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/rooms/r1", nil))
	req.Equal(http.StatusOK, w.Code)
	detail := decode(t, w.Body.Bytes())
	req.Len(detail["participants"], 2)
	stats := detail["stats"].(map[string]any)
	req.EqualValues(2, stats["participantCount"])
	req.EqualValues(1, stats["activeStreams"])

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/rooms/r1/streams", nil))
	req.Equal(http.StatusOK, w.Code)
	streams := decode(t, w.Body.Bytes())["streams"].([]any)
	req.Len(streams, 1)
	stream := streams[0].(map[string]any)
	req.Equal("s1", stream["streamId"])
	req.Equal("a", stream["participantId"])
	req.Equal([]any{"b"}, stream["subscribers"])

	// Then unknown rooms are 404
	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/rooms/nope", nil))
	req.Equal(http.StatusNotFound, w.Code)
	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/rooms/nope/streams", nil))
	req.Equal(http.StatusNotFound, w.Code)
}

func Test_Router_WS_BadQuery(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, context.Background(), nil)

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))
	req.Equal(http.StatusBadRequest, w.Code)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ws?room_id=r1&name="+strings.Repeat("n", 40), nil))
	req.Equal(http.StatusBadRequest, w.Code)
}

func Test_Router_WS_Signaling(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestServer(t, ctx, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	// Given a and b in r1
	a := dial(t, srv, "room_id=r1&participant_id=a&name=Alice")
	req.Equal("a", readType(t, a, "room-info")["yourParticipantId"])
	b := dial(t, srv, "room_id=r1&participant_id=b")
	req.Len(readType(t, b, "room-info")["participants"], 2)
	req.Equal("b", readType(t, a, "status")["participantId"])

	// When b sends an offer to a
	offer, err := json.Marshal(map[string]any{"type": "offer", "targetParticipantId": "a", "sdp": testSDP})
	req.NoError(err)
	req.NoError(b.WriteMessage(websocket.TextMessage, offer))

	// Then a receives it from b
	got := readType(t, a, "offer")
	req.Equal("b", got["fromParticipantId"])
	req.Equal(testSDP, got["sdp"])

	// When a third connection reuses b's id in another room
	dup := dial(t, srv, "room_id=r2&participant_id=b")
	req.Equal("already_in_another_room", readType(t, dup, "error")["code"])

	// When b hangs up
	req.NoError(b.Close())

	// Then a is told b left
	left := readType(t, a, "status")
	req.Equal("left", left["event"])
	req.Equal("b", left["participantId"])

	// When the server shuts down every session is cleaned up
	cancel()
	s.signal.Wait()
	req.Empty(s.orch.Registry.List())
}

func Test_Router_WS_ClientTokenFallback(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestServer(t, ctx, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dial(t, srv, "room_id=r1")
	you := readType(t, conn, "room-info")["yourParticipantId"].(string)
	_, err := uuid.Parse(you)
	req.NoError(err)

	cancel()
	s.signal.Wait()

	// Then late connections are turned away
	w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ws?room_id=r1", nil))
	req.Equal(http.StatusServiceUnavailable, w.Code)
}

func Test_Router_Analysis(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	analyzer := mocks.NewMockAnalyzer(ctrl)
	s := newTestServer(t, context.Background(), analysis.NewPipeline(nil, analyzer, 50))

	// When the analyzer is down the fallback is returned
	analyzer.EXPECT().Analyze(gomock.Any(), "status update").Return(analysis.Result{}, errors.New("unreachable"))
	w := s.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/analysis", strings.NewReader(`{"text":"status update"}`)))
	req.Equal(http.StatusOK, w.Code)
	body := decode(t, w.Body.Bytes())
	req.Equal(true, body["fallback"])
	req.Equal("status update", body["summary"])

	w = s.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/analysis", strings.NewReader(`{}`)))
	req.Equal(http.StatusBadRequest, w.Code)
}

func uploadRequest(t *testing.T, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "segment.wav")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	r := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func Test_Router_Transcriptions(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transcriber := mocks.NewMockTranscriber(ctrl)
	analyzer := mocks.NewMockAnalyzer(ctrl)
	s := newTestServer(t, context.Background(), analysis.NewPipeline(transcriber, analyzer, 50))

	// audio is transcribed and analyzed
	transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any(), gomock.Any()).Return("ship it", nil)
	analyzer.EXPECT().Analyze(gomock.Any(), "ship it").Return(analysis.Result{Sentiment: "positive"}, nil)
	w := s.do(t, uploadRequest(t, wavSegment))
	req.Equal(http.StatusOK, w.Code)
	body := decode(t, w.Body.Bytes())
	req.Equal("ship it", body["transcription"])
	req.Equal("positive", body["analysis"].(map[string]any)["sentiment"])

	// text is not audio
	w = s.do(t, uploadRequest(t, []byte("this is a plain text file, not audio")))
	req.Equal(http.StatusUnsupportedMediaType, w.Code)

	// transcriber failure
	transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("boom"))
	w = s.do(t, uploadRequest(t, wavSegment))
	req.Equal(http.StatusBadGateway, w.Code)

	// no file at all
	w = s.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", nil))
	req.Equal(http.StatusBadRequest, w.Code)
}
