package server

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

type dashboardIndex struct {
	Dashboards []string `json:"dashboards"`
}

// DashboardsHandler serves component dashboards keyed by URL path. The bare
// /dashboards/ path lists them; each dashboard carries an ETag so Grafana
// provisioning jobs can poll with If-None-Match.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	paths := make([]string, 0, len(dashboards))
	etags := make(map[string]string, len(dashboards))
	for path, data := range dashboards {
		paths = append(paths, path)
		sum := sha256.Sum256(data)
		etags[path] = `"` + hex.EncodeToString(sum[:8]) + `"`
	}
	sort.Strings(paths)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSuffix(r.URL.Path, "/") == "/dashboards" {
			writeJSON(w, http.StatusOK, dashboardIndex{Dashboards: paths})
			return
		}
		data, ok := dashboards[r.URL.Path]
		if !ok {
			writeError(w, "dashboard not found", http.StatusNotFound)
			return
		}

		etag := etags[r.URL.Path]
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "no-cache")
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(data)
		}
	})
}
