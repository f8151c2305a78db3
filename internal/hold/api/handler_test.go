package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-boxoffice/internal/config"
	"ms-boxoffice/internal/hold"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/utils"
)

func setupRouter(t *testing.T) *chi.Mux {
	t.Helper()

	store := hold.NewMemoryStore(config.HoldConfig{
		MinTTL: 30 * time.Second, MaxTTL: 15 * time.Minute, DefaultTTL: 2 * time.Minute,
	})
	handler := NewHandler(store, logger.Discard())

	r := chi.NewRouter()
	r.Post("/api/v1/holds", handler.Acquire)
	r.Post("/api/v1/holds/extend", handler.Extend)
	r.Post("/api/v1/holds/release", handler.Release)
	return r
}

func postJSON(t *testing.T, router *chi.Mux, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeHoldResponse(t *testing.T, rec *httptest.ResponseRecorder) models.AcquireHoldResponse {
	t.Helper()

	var envelope utils.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))

	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var resp models.AcquireHoldResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestAcquireEndpoint(t *testing.T) {
	router := setupRouter(t)

	rec := postJSON(t, router, "/api/v1/holds", models.AcquireHoldRequest{
		TenantID: "t1", PerformanceID: "perf-1",
		SeatIDs: []string{"A1", "A2"}, Owner: "sess-1", Version: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeHoldResponse(t, rec)
	assert.True(t, resp.Acquired)
	assert.Equal(t, "1:sess-1", resp.Token)
	assert.Equal(t, (2 * time.Minute).Milliseconds(), resp.TTLMillis)

	// A contended request reports 409 plus the exact conflicting seats.
	rec = postJSON(t, router, "/api/v1/holds", models.AcquireHoldRequest{
		TenantID: "t1", PerformanceID: "perf-1",
		SeatIDs: []string{"A2", "A3"}, Owner: "sess-2", Version: 1,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	resp = decodeHoldResponse(t, rec)
	assert.False(t, resp.Acquired)
	assert.Equal(t, []string{"A2"}, resp.Conflicts)
	assert.Empty(t, resp.Token)
}

func TestAcquireEndpoint_Validation(t *testing.T) {
	router := setupRouter(t)

	rec := postJSON(t, router, "/api/v1/holds", models.AcquireHoldRequest{
		TenantID: "t1", PerformanceID: "perf-1",
		SeatIDs: []string{"A1"}, Owner: "sess-1", Version: 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/holds", bytes.NewReader([]byte("{not json")))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtendAndReleaseEndpoints(t *testing.T) {
	router := setupRouter(t)

	rec := postJSON(t, router, "/api/v1/holds", models.AcquireHoldRequest{
		TenantID: "t1", PerformanceID: "perf-1",
		SeatIDs: []string{"B1"}, Owner: "sess-1", Version: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, router, "/api/v1/holds/extend", models.HoldKeyRequest{
		TenantID: "t1", PerformanceID: "perf-1", SeatID: "B1",
		Owner: "sess-1", Version: 1, TTLMillis: 60000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope utils.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	op := decodeOpResponse(t, envelope)
	assert.True(t, op.Applied)

	// A foreign owner's release is a 200 with applied=false.
	rec = postJSON(t, router, "/api/v1/holds/release", models.HoldKeyRequest{
		TenantID: "t1", PerformanceID: "perf-1", SeatID: "B1",
		Owner: "sess-2", Version: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	op = decodeOpResponse(t, envelope)
	assert.False(t, op.Applied)
}

func decodeOpResponse(t *testing.T, envelope utils.APIResponse) models.HoldOpResponse {
	t.Helper()

	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var op models.HoldOpResponse
	require.NoError(t, json.Unmarshal(data, &op))
	return op
}
