package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradepost.ai/internal/sim/world"
	"tradepost.ai/internal/transport/observer"
	"tradepost.ai/internal/transport/ws"
)

type routerDeps struct {
	World       *world.World
	WorldID     string
	WS          *ws.Server
	Observer    *observer.Server
	Registry    *prometheus.Registry
	EnableAdmin bool
	Logger      *log.Logger
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	r.Get("/v1/ws", d.WS.Handler())

	if !d.EnableAdmin {
		if d.Logger != nil {
			d.Logger.Printf("admin endpoints disabled (TRADEPOST_ENABLE_ADMIN_HTTP=false)")
		}
		return r
	}

	// Local-only admin endpoints.
	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(loopbackOnly)
		r.Get("/state", func(rw http.ResponseWriter, r *http.Request) {
			writeJSON(rw, struct {
				WorldID string             `json:"world_id"`
				Tick    uint64             `json:"tick"`
				Metrics world.WorldMetrics `json:"metrics"`
			}{
				WorldID: d.WorldID,
				Tick:    d.World.CurrentTick(),
				Metrics: d.World.Metrics(),
			})
		})
		r.Get("/balance/{account}", func(rw http.ResponseWriter, r *http.Request) {
			account := chi.URLParam(r, "account")
			writeJSON(rw, map[string]any{
				"account": account,
				"balance": d.World.Ledger().Balance(account),
			})
		})
		if d.Observer != nil {
			r.Get("/observer/bootstrap", d.Observer.BootstrapHandler())
			r.Get("/observer/ws", d.Observer.WSHandler())
		}
	})
	return r
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}
