package main

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/bootstrap"
	"github.com/karstnet/karst/pkg/gossip"
	"github.com/karstnet/karst/pkg/health"
	"github.com/karstnet/karst/pkg/metrics"
	"github.com/karstnet/karst/pkg/node"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/store"
	"github.com/karstnet/karst/pkg/transport"
	"github.com/karstnet/karst/pkg/xor"
)

func registerRoutes(n *node.Node, table *routing.Table, st *store.Store, cfg config, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	// Peer protocol
	transport.Routes(mux, n, logger)
	mux.HandleFunc("/gossip", gossip.Handler(table, logger))

	// Control endpoints
	mux.Handle("/announce", bootstrap.NewHandler(table, cfg.SharedSecret, logger))
	mux.HandleFunc("/healthz", health.New(table, st).Handler())
	mux.HandleFunc("/peers", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(table.Peers())
	})
	mux.HandleFunc("/spend/status", func(w http.ResponseWriter, r *http.Request) {
		addr, err := xor.FromHex(r.URL.Query().Get("addr"))
		if err != nil {
			http.Error(w, "bad addr", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": n.SpendStatus(r.Context(), addr).String(),
		})
	})

	// Metrics
	mux.Handle("/metrics", metrics.Handler())

	return mux
}
