package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/campusnet/forum/internal/common/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGatewayCORSPreflight(t *testing.T) {
	called := false
	g := New(config.ServerConfig{}, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}), zap.NewNop())

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/forums/x/messages", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-User-ID")
}

func TestGatewayLogsStatus(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	g := New(config.ServerConfig{}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), zap.New(core))

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	entries := logs.FilterMessage("http request").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, int64(http.StatusTeapot), entries[0].ContextMap()["status"])
	}
}

func TestResponseWriterFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	var f http.Flusher = rw
	f.Flush()
	assert.True(t, rec.Flushed)
	assert.Equal(t, rec, rw.Unwrap())
}
