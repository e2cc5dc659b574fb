package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/casebook-api/internal/models"
)

func TestMetricsServiceRecordsWorkflowCounters(t *testing.T) {
	m := NewMetricsService()
	m.RecordTransition(models.StatusOrderPreparation, "applied")
	m.RecordTransition(models.StatusOrderPreparation, "applied")
	m.RecordAuthorization("stale")
	m.RecordAttachmentChanges([]models.AttachmentChange{{Type: models.AttachmentChangeAdd}, {Type: models.AttachmentChangeReplace}})
	m.RecordAmendment()
	m.ObserveHTTPRequest(http.MethodGet, "/cases/:id", http.StatusOK, 10*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `casebook_status_transitions_total{outcome="applied",status="Order Preparation"} 2`)
	assert.Contains(t, body, `casebook_authorization_decisions_total{outcome="stale"} 1`)
	assert.Contains(t, body, `casebook_attachment_changes_total{type="replace"} 1`)
	assert.Contains(t, body, `casebook_amendments_total 1`)
	assert.Contains(t, body, `http_requests_total{method="GET",path="/cases/:id",status="200"} 1`)
}

func scrape(t *testing.T, m *MetricsService) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.RecordTransition(models.StatusCaseBooked, "applied")
		m.RecordPermissionRefresh(false)
		m.RecordCacheOperation(true, time.Millisecond)
		m.ObserveCacheWrite(time.Millisecond)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
