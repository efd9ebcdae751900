package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// BufferStats exposes the pipeline's in-memory state.
type BufferStats interface {
	Buffered() int
}

type StatusHandler struct {
	logger  *slog.Logger
	stats   BufferStats
	started time.Time
}

func NewStatusHandler(log *slog.Logger, stats BufferStats) *StatusHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StatusHandler{
		logger:  log.With(slog.String("handler", "status")),
		stats:   stats,
		started: time.Now(),
	}
}

func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/status", h.Status)
}

func (h *StatusHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"buffered_messages": h.stats.Buffered(),
		"uptime_seconds":    int64(time.Since(h.started).Seconds()),
	})
}
