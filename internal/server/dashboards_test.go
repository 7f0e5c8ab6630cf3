package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/epdrelay/internal/core"
)

func TestDashboardsHandler(t *testing.T) {
	overview := core.DashboardPath("relay", "relay-overview")
	h := DashboardsHandler(map[string][]byte{
		overview:                                   []byte(`{"title":"EPD relay"}`),
		core.DashboardPath("discovery", "network"): []byte(`{}`),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dashboards/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"dashboards":["/dashboards/discovery/network.json","/dashboards/relay/relay-overview.json"]}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, overview, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `{"title":"EPD relay"}`, rr.Body.String())
	etag := rr.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, overview, nil)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotModified, rr.Code)
	assert.Empty(t, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodHead, overview, nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "21", rr.Header().Get("Content-Length"))
	assert.Empty(t, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dashboards/relay/missing.json", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"dashboard not found"}`, rr.Body.String())
}
