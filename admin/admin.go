// Package admin serves the operational HTTP endpoints of the proxy.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	prefetchproxy "github.com/always-cache/prefetch-proxy"
)

// Proxy is the part of the proxy the endpoints operate on.
type Proxy interface {
	Stats() (prefetchproxy.Stats, error)
	Purge(url string) error
}

// NewRouter returns a router serving:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /stats
//	DELETE /cache?url=<request target>
func NewRouter(proxy Proxy, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Admin request")
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := proxy.Stats()
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Could not collect stats")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})
	r.Delete("/cache", func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		if url == "" {
			http.Error(w, "missing url parameter", http.StatusBadRequest)
			return
		}
		if err := proxy.Purge(url); err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("url", url).Msg("Could not purge")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}
