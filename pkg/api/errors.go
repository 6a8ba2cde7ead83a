package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/reqflow/reqflow/pkg/domain"
)

// mapSessionError maps an error returned by the Orchestrator to an HTTP
// error response, using domain.TerminalError's Kind taxonomy where present.
func mapSessionError(err error) *echo.HTTPError {
	var terr *domain.TerminalError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case domain.ErrKindInvalidInput:
			return echo.NewHTTPError(http.StatusBadRequest, terr.Message)
		case domain.ErrKindUnknownSession:
			return echo.NewHTTPError(http.StatusNotFound, terr.Message)
		case domain.ErrKindBusy:
			return echo.NewHTTPError(http.StatusTooManyRequests, terr.Message)
		case domain.ErrKindSessionTerminal, domain.ErrKindNotClarifying:
			return echo.NewHTTPError(http.StatusConflict, terr.Message)
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, terr.Message)
		}
	}

	slog.Error("unexpected orchestrator error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
