package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/stats"
)

// liveInterval is how often the live stats feed pushes a frame.
const liveInterval = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control API is an internal surface; the feed accepts any origin
	// like the rest of it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// liveFrame is one push on the live stats feed.
type liveFrame struct {
	Type      string         `json:"type"`
	Data      stats.Snapshot `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// Live upgrades the connection to a websocket and pushes a stats snapshot
// immediately and then every second until the client goes away.
func (h *ControlHandler) Live(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	log := h.logger.With("remote_addr", c.Request().RemoteAddr)
	log.Debug("live stats feed opened")

	// Drain client frames so a close is noticed even though we only write.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(liveInterval)
	defer ticker.Stop()

	for {
		frame := liveFrame{
			Type:      "stats",
			Data:      h.reg.Snapshot(time.Now()),
			Timestamp: time.Now().Unix(),
		}
		_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := ws.WriteJSON(frame); err != nil {
			log.Debug("live stats feed closed", "err", err)
			return nil
		}
		select {
		case <-ticker.C:
		case <-done:
			log.Debug("live stats feed closed by client")
			return nil
		}
	}
}
