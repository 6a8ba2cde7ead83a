package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades GET /api/v1/sessions/:id/ws to a WebSocket connection
// and pumps the session's event stream to the client as JSON text frames.
func (s *Server) wsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	sub, err := s.orch.Subscribe(ctx, id, fromSequenceParam(c))
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return mapSessionError(err)
	}
	defer sub.Close()

	// A dedicated read loop detects client-initiated close; this stream is
	// one-directional so incoming frames are discarded.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("marshal event for websocket", "session_id", id, "error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return nil
			}
		}
	}
}

// fromSequenceParam parses the optional from_sequence query parameter used
// to resume a stream after a reconnect.
func fromSequenceParam(c *echo.Context) *int64 {
	v := c.QueryParam("from_sequence")
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
