package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newGinContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/ws?room_id=r1", nil)
	return c, w
}

func Test_SignalWSController_RefusesAfterWait(t *testing.T) {
	req := require.New(t)
	ctl := NewSignalWSController(newTestOrch(), nil, testOptions())

	// Given the controller has been drained
	ctl.Wait()

	// When a new connection arrives
	c, w := newGinContext()
	ctl.HandleSignal(context.Background(), c, JoinParams{RoomID: "r1", ParticipantID: "a"})

	// Then it is refused before any upgrade and nothing joined
	req.Equal(http.StatusServiceUnavailable, w.Code)
	req.Empty(ctl.Orch.Registry.List())
	ctl.Wait()
}

func Test_SignalWSController_RefusesCancelledContext(t *testing.T) {
	req := require.New(t)
	ctl := NewSignalWSController(newTestOrch(), nil, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, w := newGinContext()
	ctl.HandleSignal(ctx, c, JoinParams{RoomID: "r1", ParticipantID: "a"})

	req.Equal(http.StatusServiceUnavailable, w.Code)
	// no session was tracked, so Wait returns at once
	ctl.Wait()
}
