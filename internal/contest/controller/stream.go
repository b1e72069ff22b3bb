package controller

import (
	"context"
	"net/http"
	"time"

	appErr "arena/pkg/errors"
	"arena/pkg/utils/logger"
	"arena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval    = 30 * time.Second
	defaultRefreshInterval = 15 * time.Second
	defaultWriteTimeout    = 5 * time.Second
)

// StreamConfig tunes the rankings websocket.
type StreamConfig struct {
	PingInterval time.Duration
	// RefreshInterval re-sends the board without an invalidation so phase
	// changes (start, end) reach idle clients.
	RefreshInterval time.Duration
	WriteTimeout    time.Duration
	AllowedOrigins  []string
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

func (c StreamConfig) checkOrigin(r *http.Request) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// StreamFrame is one message on the rankings stream.
type StreamFrame struct {
	Available bool        `json:"available"`
	Code      int         `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// StreamRankings upgrades to a websocket and pushes the board whenever the
// contest's ledger changes.
func (h *ContestController) StreamRankings(c *gin.Context) {
	contestID := c.Param("id")
	ctx := c.Request.Context()

	// Reject unknown contests before upgrading.
	first, err := h.frame(ctx, contestID)
	if err != nil {
		response.Error(c, err)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: h.stream.checkOrigin}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "rankings stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	signals, unsubscribe := h.contestService.Subscribe(contestID)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.writeFrame(conn, first); err != nil {
		return
	}

	ping := time.NewTicker(h.stream.PingInterval)
	defer ping.Stop()
	refresh := time.NewTicker(h.stream.RefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(h.stream.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-signals:
			if !h.push(ctx, conn, contestID) {
				return
			}
		case <-refresh.C:
			if !h.push(ctx, conn, contestID) {
				return
			}
		}
	}
}

func (h *ContestController) push(ctx context.Context, conn *websocket.Conn, contestID string) bool {
	frame, err := h.frame(ctx, contestID)
	if err != nil {
		e := appErr.GetError(err)
		frame = StreamFrame{Code: int(e.Code), Message: e.Message}
	}
	if err := h.writeFrame(conn, frame); err != nil {
		logger.Debug(ctx, "rankings stream closed", zap.String("contest_id", contestID), zap.Error(err))
		return false
	}
	return true
}

// frame builds the next message. A board that is not yet available is a
// frame, not an error.
func (h *ContestController) frame(ctx context.Context, contestID string) (StreamFrame, error) {
	board, err := h.contestService.Rankings(ctx, contestID)
	if err == nil {
		return StreamFrame{Available: true, Data: board}, nil
	}
	e := appErr.GetError(err)
	if e.Code != appErr.RankingNotAvailable {
		return StreamFrame{}, err
	}
	return StreamFrame{Code: int(e.Code), Message: e.Message, Data: e.Details}, nil
}

func (h *ContestController) writeFrame(conn *websocket.Conn, frame StreamFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.stream.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
