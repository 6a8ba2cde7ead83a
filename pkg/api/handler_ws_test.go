package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSequenceParam(t *testing.T) {
	e := echo.New()

	t.Run("absent returns nil", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/sessions/s1/ws", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		assert.Nil(t, fromSequenceParam(c))
	})

	t.Run("valid integer is parsed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/sessions/s1/ws?from_sequence=42", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		got := fromSequenceParam(c)
		require.NotNil(t, got)
		assert.Equal(t, int64(42), *got)
	})

	t.Run("invalid value returns nil", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/sessions/s1/ws?from_sequence=not-a-number", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		assert.Nil(t, fromSequenceParam(c))
	})
}
