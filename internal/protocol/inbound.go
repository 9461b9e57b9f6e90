// Package protocol defines the signaling messages exchanged over a room
// connection and their JSON encoding.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/goccy/go-json"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

type Kind string

// inbound kinds
const (
	KindOffer             Kind = "offer"
	KindAnswer            Kind = "answer"
	KindICECandidate      Kind = "ice-candidate"
	KindStreamAdded       Kind = "stream-added"
	KindSubscribeToStream Kind = "subscribe-to-stream"
	KindMute              Kind = "mute"
	KindUnmute            Kind = "unmute"
	KindPing              Kind = "ping"
	KindGetRoomStats      Kind = "get-room-stats"
)

// Inbound is one parsed client message. The set of implementations is
// closed: Offer/Answer/ICECandidate are *Signal, the rest have their own type.
type Inbound interface {
	Kind() Kind
	inbound()
}

// Signal is a negotiation message relayed point to point.
// fields keeps the original object so it can be forwarded verbatim.
// SDP and Candidate are decoded on a best-effort basis; when that fails
// PayloadErr says why and the message is still forwarded as sent.
type Signal struct {
	kind       Kind
	Target     domain.ParticipantID
	SDP        webrtc.SessionDescription
	Candidate  webrtc.ICECandidateInit
	PayloadErr error
	fields     map[string]json.RawMessage
}

type StreamAdded struct {
	StreamID   domain.StreamID
	StreamKind domain.StreamKind
}

type SubscribeToStream struct {
	Owner    domain.ParticipantID
	StreamID domain.StreamID
}

type (
	Mute         struct{}
	Unmute       struct{}
	Ping         struct{}
	GetRoomStats struct{}
)

func (s *Signal) Kind() Kind         { return s.kind }
func (StreamAdded) Kind() Kind       { return KindStreamAdded }
func (SubscribeToStream) Kind() Kind { return KindSubscribeToStream }
func (Mute) Kind() Kind              { return KindMute }
func (Unmute) Kind() Kind            { return KindUnmute }
func (Ping) Kind() Kind              { return KindPing }
func (GetRoomStats) Kind() Kind      { return KindGetRoomStats }
func (*Signal) inbound()             {}
func (StreamAdded) inbound()         {}
func (SubscribeToStream) inbound()   {}
func (Mute) inbound()                {}
func (Unmute) inbound()              {}
func (Ping) inbound()                {}
func (GetRoomStats) inbound()        {}

type envelope struct {
	Type Kind `json:"type"`
}

type signalPayload struct {
	Target    domain.ParticipantID `json:"targetParticipantId"`
	SDP       json.RawMessage      `json:"sdp"`
	Candidate json.RawMessage      `json:"candidate"`
}

var errNoPayload = errors.New("missing payload")

type streamAddedPayload struct {
	StreamID domain.StreamID   `json:"streamId"`
	Kind     domain.StreamKind `json:"streamKind"`
}

type subscribePayload struct {
	Owner    domain.ParticipantID `json:"streamOwnerId"`
	StreamID domain.StreamID      `json:"streamId"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// Parse decodes one frame. Errors wrap domain.ErrMalformedMessage or
// domain.ErrUnknownKind.
func Parse(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, malformed("%v", err)
	}

	switch env.Type {
	case KindOffer, KindAnswer, KindICECandidate:
		return parseSignal(env.Type, data)
	case KindStreamAdded:
		var p streamAddedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, malformed("%v", err)
		}
		if p.StreamID == "" {
			return nil, malformed("stream-added without streamId")
		}
		if p.Kind == "" {
			p.Kind = domain.StreamKindAudio
		}
		if !p.Kind.Valid() {
			return nil, malformed("unsupported stream kind %q", p.Kind)
		}
		return StreamAdded{StreamID: p.StreamID, StreamKind: p.Kind}, nil
	case KindSubscribeToStream:
		var p subscribePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, malformed("%v", err)
		}
		if p.Owner == "" || p.StreamID == "" {
			return nil, malformed("subscribe-to-stream needs streamOwnerId and streamId")
		}
		return SubscribeToStream{Owner: p.Owner, StreamID: p.StreamID}, nil
	case KindMute:
		return Mute{}, nil
	case KindUnmute:
		return Unmute{}, nil
	case KindPing:
		return Ping{}, nil
	case KindGetRoomStats:
		return GetRoomStats{}, nil
	case "":
		return nil, malformed("missing type")
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownKind, env.Type)
	}
}

func parseSignal(kind Kind, data []byte) (*Signal, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, malformed("%v", err)
	}
	var p signalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, malformed("%v", err)
	}
	if p.Target == "" {
		return nil, malformed("%s without targetParticipantId", kind)
	}

	s := &Signal{kind: kind, Target: p.Target, fields: fields}
	switch kind {
	case KindOffer, KindAnswer:
		s.SDP, s.PayloadErr = decodeSDP(kind, p.SDP)
	case KindICECandidate:
		s.Candidate, s.PayloadErr = decodeCandidate(p.Candidate)
	}
	return s, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// decodeSDP accepts sdp either as the bare description string or as a
// {type, sdp} object and checks that the description parses.
func decodeSDP(kind Kind, raw json.RawMessage) (webrtc.SessionDescription, error) {
	desc := webrtc.SessionDescription{Type: webrtc.NewSDPType(string(kind))}
	if isAbsent(raw) {
		return desc, errNoPayload
	}
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &desc.SDP); err != nil {
			return desc, err
		}
	} else {
		var obj webrtc.SessionDescription
		if err := json.Unmarshal(raw, &obj); err != nil {
			return desc, err
		}
		desc.SDP = obj.SDP
		if obj.Type != webrtc.SDPTypeUnknown {
			desc.Type = obj.Type
		}
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return desc, errors.New("empty sdp")
	}

	text := desc.SDP
	if !strings.HasSuffix(text, "\n") {
		text += "\r\n"
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(text)); err != nil {
		return desc, fmt.Errorf("sdp: %w", err)
	}
	return desc, nil
}

func decodeCandidate(raw json.RawMessage) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if isAbsent(raw) {
		return c, errNoPayload
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, err
	}
	return c, nil
}

// Forward re-encodes the original message with the sender and a server
// timestamp added.
func (s *Signal) Forward(from domain.ParticipantID, at time.Time) (core.Frame, error) {
	out := make(map[string]json.RawMessage, len(s.fields)+2)
	for k, v := range s.fields {
		out[k] = v
	}
	fromRaw, err := json.Marshal(from)
	if err != nil {
		return nil, err
	}
	atRaw, err := json.Marshal(at)
	if err != nil {
		return nil, err
	}
	out["fromParticipantId"] = fromRaw
	out["timestamp"] = atRaw
	return json.Marshal(out)
}
