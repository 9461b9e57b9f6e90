package signal

import (
	"context"
	"net/http"
	"sync"

	"github.com/dkeye/meetroom/internal/app/orch"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// JoinParams identify who connects where. They are validated by the
// HTTP layer before the upgrade.
type JoinParams struct {
	RoomID        domain.RoomID
	ParticipantID domain.ParticipantID
	Name          string
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *JoinRateLimiter
	Opts    Options

	upgrader websocket.Upgrader

	mu       sync.Mutex
	stopping bool
	sessions sync.WaitGroup
}

func NewSignalWSController(o *orch.Orchestrator, limiter *JoinRateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Limiter: limiter,
		Opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleSignal upgrades the request and runs its session in the
// background until the peer goes away or ctx is cancelled. Once ctx is
// done or Wait was called, new connections get 503.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, params JoinParams) {
	log.Info().Str("module", "signal").Str("room", string(params.RoomID)).
		Str("participant", string(params.ParticipantID)).Msg("new WS connection")

	if ctx.Err() != nil || !ctl.track() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ctl.sessions.Done()
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sess := NewSession(ctl.Orch, ctl.Limiter, ws, ctl.Opts, params.RoomID, params.ParticipantID, params.Name)
	go func() {
		defer ctl.sessions.Done()
		sess.Run(ctx)
	}()
}

// track registers a session unless the controller is stopping.
func (ctl *SignalWSController) track() bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.stopping {
		return false
	}
	ctl.sessions.Add(1)
	return true
}

// Wait stops accepting sessions and blocks until every running one
// finished its cleanup.
func (ctl *SignalWSController) Wait() {
	ctl.mu.Lock()
	ctl.stopping = true
	ctl.mu.Unlock()
	ctl.sessions.Wait()
}
