package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/vkchatbot/vkchatbot/internal/message"
	"github.com/vkchatbot/vkchatbot/internal/vk"
)

const defaultHistoryCount = 50

// HistorySource serves durable conversation history.
type HistorySource interface {
	History(ctx context.Context, peerID int64, count int) ([]message.Message, error)
}

type HistoryHandler struct {
	logger *slog.Logger
	source HistorySource
}

func NewHistoryHandler(log *slog.Logger, source HistorySource) *HistoryHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HistoryHandler{
		logger: log.With(slog.String("handler", "history")),
		source: source,
	}
}

func (h *HistoryHandler) Register(e *echo.Echo) {
	e.GET("/peers/:peer_id/history", h.History)
}

type historyMessage struct {
	ConversationMessageID int64           `json:"conversation_message_id"`
	PeerID                int64           `json:"peer_id"`
	FromID                int64           `json:"from_id"`
	Timestamp             float64         `json:"timestamp"`
	Text                  *string         `json:"text"`
	Attachments           []vk.Attachment `json:"attachments,omitempty"`
}

func (h *HistoryHandler) History(c echo.Context) error {
	peerID, err := strconv.ParseInt(c.Param("peer_id"), 10, 64)
	if err != nil || peerID == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid peer_id"})
	}

	count := defaultHistoryCount
	if raw := c.QueryParam("count"); raw != "" {
		count, err = strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid count"})
		}
	}

	history, err := h.source.History(c.Request().Context(), peerID, count)
	if err != nil {
		h.logger.Error("failed to load history", slog.Int64("peer_id", peerID), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load history"})
	}

	out := make([]historyMessage, len(history))
	for i, msg := range history {
		out[i] = historyMessage{
			ConversationMessageID: msg.ConversationMessageID,
			PeerID:                msg.PeerID,
			FromID:                msg.FromID,
			Timestamp:             msg.Timestamp,
			Text:                  msg.Text,
			Attachments:           msg.Attachments,
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": out})
}
