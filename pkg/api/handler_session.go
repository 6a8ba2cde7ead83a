package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/reqflow/reqflow/pkg/domain"
)

// startSessionHandler handles POST /api/v1/sessions.
func (s *Server) startSessionHandler(c *echo.Context) error {
	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	mode := domain.Mode(req.Mode)
	switch mode {
	case domain.ModeQuick, domain.ModeStandard, domain.ModeDeep, domain.ModeWorkflow:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be one of quick, standard, deep, workflow")
	}

	id, err := s.orch.Start(c.Request().Context(), req.RequirementText, mode, req.Project)
	if err != nil {
		return mapSessionError(err)
	}

	return c.JSON(http.StatusAccepted, &StartSessionResponse{SessionID: id})
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	snap, err := s.orch.GetSession(c.Request().Context(), id)
	if err != nil {
		return mapSessionError(err)
	}

	return c.JSON(http.StatusOK, snapshotResponse(snap))
}

// submitAnswerHandler handles POST /api/v1/sessions/:id/answer.
func (s *Server) submitAnswerHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req SubmitAnswerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.orch.SubmitAnswer(c.Request().Context(), id, req.Answers); err != nil {
		return mapSessionError(err)
	}

	return c.NoContent(http.StatusAccepted)
}

// cancelSessionHandler handles POST /api/v1/sessions/:id/cancel.
func (s *Server) cancelSessionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	cancelled := s.orch.Cancel(id)
	return c.JSON(http.StatusOK, &CancelResponse{SessionID: id, Cancelled: cancelled})
}
