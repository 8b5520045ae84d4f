package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithTraceLoggerAddsPlacement(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	r := mux.NewRouter()
	r.Use(WithTraceLogger(base))
	r.HandleFunc("/placements/{placement}", func(w http.ResponseWriter, r *http.Request) {
		LoggerFromRequest(r, zap.NewNop()).Info("hit")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/placements/sidebar", nil))

	entries := logs.FilterMessage("hit").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "sidebar", entries[0].ContextMap()["placement"])
	}
}

func TestLoggerFromContextFallback(t *testing.T) {
	fallback := zap.NewNop()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Same(t, fallback, LoggerFromRequest(req, fallback))
}
