package signal

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/dkeye/meetroom/internal/app/orch"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/dkeye/meetroom/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateConnecting State = iota
	StateJoining
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session drives one websocket through join, the message loop and cleanup.
// It is the sole owner of its connection.
type Session struct {
	orch    *orch.Orchestrator
	limiter *JoinRateLimiter
	opts    Options

	roomID domain.RoomID
	pid    domain.ParticipantID
	name   string

	conn   *WsSignalConn
	state  atomic.Int32
	logger zerolog.Logger
}

func NewSession(o *orch.Orchestrator, limiter *JoinRateLimiter, ws WSConn, opts Options, roomID domain.RoomID, pid domain.ParticipantID, name string) *Session {
	s := &Session{
		orch:    o,
		limiter: limiter,
		opts:    opts,
		roomID:  roomID,
		pid:     pid,
		name:    name,
		conn:    NewWsSignalConn(ws, opts.SendBuffer),
		logger: log.With().Str("module", "signal").
			Str("room", string(roomID)).Str("participant", string(pid)).Logger(),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug().Stringer("state", st).Msg("session state")
}

// Run blocks until the connection is gone and its cleanup is finished.
// Cancelling ctx closes the socket, which ends the session like any
// other disconnect.
func (s *Session) Run(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writePump(s.conn, s.opts, s.logger)
	}()

	s.setState(StateJoining)
	p, err := s.join()
	if err != nil {
		s.logger.Info().Err(err).Msg("join rejected")
		s.reject(err)
		s.conn.Close()
		<-writerDone
		s.setState(StateClosed)
		return
	}
	s.setState(StateActive)

	stop := context.AfterFunc(ctx, func() {
		s.logger.Info().Msg("shutdown, closing connection")
		_ = s.conn.conn.Close()
	})
	defer stop()

	readPump(s.conn, s.opts, s.logger, s.handle)

	s.setState(StateClosing)
	s.orch.Leave(s.roomID, p)
	s.conn.Close()
	<-writerDone
	s.setState(StateClosed)
	s.logger.Info().Msg("session closed")
}

func (s *Session) join() (domain.Participant, error) {
	if !s.limiter.Allow(s.pid) {
		return domain.Participant{}, domain.ErrRateLimited
	}
	return s.orch.Join(s.roomID, s.pid, s.name, s.conn)
}

// reject queues the single error frame a refused connection gets.
func (s *Session) reject(err error) {
	frame, encErr := protocol.Encode(protocol.NewError(err, ""))
	if encErr != nil {
		s.logger.Error().Err(encErr).Msg("encode join error")
		return
	}
	if sendErr := s.conn.TrySend(frame); sendErr != nil {
		s.logger.Warn().Err(sendErr).Msg("join error not sent")
	}
}

func (s *Session) handle(data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownKind) {
			s.logger.Warn().Err(err).Msg("unknown message dropped")
		} else {
			s.logger.Warn().Err(err).Msg("malformed message dropped")
		}
		return
	}
	s.orch.Dispatch(s.roomID, s.pid, msg)
}
