package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/r3labs/sse/v2"
)

// sseHandler serves GET /api/v1/sessions/:id/events as a Server-Sent Events
// stream, a fallback for clients (or proxies) that can't use WebSockets.
// Each session gets its own r3labs/sse stream, created on first subscriber
// and torn down once the request's context ends.
func (s *Server) sseHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	ctx := c.Request().Context()
	sub, err := s.orch.Subscribe(ctx, id, fromSequenceParam(c))
	if err != nil {
		return mapSessionError(err)
	}
	defer sub.Close()

	if !s.sse.StreamExists(id) {
		s.sse.CreateStream(id)
	}
	defer s.sse.RemoveStream(id)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					slog.Error("marshal event for sse", "session_id", id, "error", err)
					continue
				}
				s.sse.Publish(id, &sse.Event{Event: []byte(string(ev.Kind)), Data: data})
			}
		}
	}()

	req := c.Request()
	req = req.WithContext(ctx)
	q := req.URL.Query()
	q.Set("stream", id)
	req.URL.RawQuery = q.Encode()

	s.sse.ServeHTTP(c.Response(), req)
	return nil
}
