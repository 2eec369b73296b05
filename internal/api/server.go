// Package api is signetd's HTTP sidecar: health/readiness probes,
// Prometheus scraping, and a debug endpoint exposing the chain tip.
// Grounded on the teacher's internal/api/server.go (same
// healthz/readyz/metrics mux shape); /debug/tip is new, serving
// internal/watch's polling client.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signetd/internal/chain"
	"signetd/internal/config"
)

// Router builds the sidecar's mux. manager may be nil in tests that
// don't need /debug/tip. signatureCount, if non-nil, reports the
// number of signatures committed since the server started (wired to
// internal/metrics's agent); when it is nil the response reports 0.
func Router(cfg *config.ServerConfig, manager *chain.Manager, signatureCount func() int64) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ready")) })
	if cfg.Metrics.Enable {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	}
	if manager != nil {
		mux.HandleFunc("/debug/tip", debugTipHandler(manager, signatureCount))
	}
	return mux
}

type tipStatus struct {
	Tip        string `json:"tip"`
	Signatures int64  `json:"signatures"`
}

func debugTipHandler(manager *chain.Manager, signatureCount func() int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tip, present, err := manager.Tip()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := tipStatus{}
		if present {
			out.Tip = tip.Hex()
		}
		if signatureCount != nil {
			out.Signatures = signatureCount()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}
