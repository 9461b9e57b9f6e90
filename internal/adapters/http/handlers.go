package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dkeye/meetroom/internal/adapters/signal"
	"github.com/dkeye/meetroom/internal/analysis"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const maxAudioUpload = 10 << 20

type wsQuery struct {
	RoomID        string `form:"room_id" binding:"required,max=64,printascii"`
	ParticipantID string `form:"participant_id" binding:"omitempty,max=64,printascii"`
	Name          string `form:"name" binding:"max=36"`
}

type streamView struct {
	domain.AvailableStream
	Subscribers []domain.ParticipantID `json:"subscribers"`
}

type analysisRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handlers) handleWS(ctx context.Context, c *gin.Context) {
	var q wsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.ParticipantID == "" {
		q.ParticipantID = c.GetString(clientTokenKey)
	}
	log.Info().Str("module", "adapters.http").Str("room", q.RoomID).Str("participant", q.ParticipantID).Msg("ws endpoint hit")

	h.Signal.HandleSignal(ctx, c, signal.JoinParams{
		RoomID:        domain.RoomID(q.RoomID),
		ParticipantID: domain.ParticipantID(q.ParticipantID),
		Name:          q.Name,
	})
}

func (h *Handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Orch.Registry.List()})
}

func (h *Handlers) getRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	room, ok := h.Orch.Registry.Room(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room":         room,
		"participants": h.Orch.Registry.ListParticipants(roomID),
		"stats":        h.Orch.Stats(roomID),
	})
}

func (h *Handlers) listStreams(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	if _, ok := h.Orch.Registry.Room(roomID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	streams := lo.Map(h.Orch.Catalog.ListAvailable(roomID, ""), func(s domain.AvailableStream, _ int) streamView {
		subs := h.Orch.Catalog.Subscribers(roomID, s.ParticipantID, s.StreamID)
		if subs == nil {
			subs = []domain.ParticipantID{}
		}
		return streamView{AvailableStream: s, Subscribers: subs}
	})
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "streams": streams})
}

func (h *Handlers) analyzeText(c *gin.Context) {
	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid text"})
		return
	}
	c.JSON(http.StatusOK, h.Pipeline.AnalyzeText(c.Request.Context(), req.Text))
}

func (h *Handlers) transcribe(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAudioUpload)
	fh, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing audio file"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable audio file"})
		return
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable audio file"})
		return
	}

	res, err := h.Pipeline.ProcessAudio(c.Request.Context(), audio)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, analysis.ErrNotAudio):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
	case errors.Is(err, analysis.ErrTranscription):
		log.Warn().Err(err).Str("module", "adapters.http").Msg("transcription failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "transcription failed"})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("process audio")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
