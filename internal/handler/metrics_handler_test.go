package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingStub struct{ err error }

func (p pingStub) Ping(ctx context.Context) error { return p.err }

func TestMetricsHandlerReady(t *testing.T) {
	handler := NewMetricsHandler(http.NotFoundHandler(), map[string]Pinger{"database": pingStub{}, "redis": nil})
	c, w := newTestContext(http.MethodGet, "/ready", nil, nil)
	handler.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)

	handler = NewMetricsHandler(nil, map[string]Pinger{"database": pingStub{err: errors.New("connection refused")}})
	c, w = newTestContext(http.MethodGet, "/ready", nil, nil)
	handler.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	c, w = newTestContext(http.MethodGet, "/metrics", nil, nil)
	handler.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
