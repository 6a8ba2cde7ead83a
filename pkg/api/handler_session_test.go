package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestStartSessionHandlerRejectsUnknownMode(t *testing.T) {
	e := echo.New()
	s := &Server{echo: e}

	body := `{"requirement_text":"as a user I want X","mode":"bogus"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.startSessionHandler(c)

	he, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
	assert.Contains(t, he.Error(), "mode must be one of")
}

func TestStartSessionHandlerRejectsMalformedBody(t *testing.T) {
	e := echo.New()
	s := &Server{echo: e}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.startSessionHandler(c)

	he, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}
