package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/gossip"
	"github.com/karstnet/karst/pkg/metrics"
	"github.com/karstnet/karst/pkg/secrets"
)

func main() {
	PrintVersion()

	cfg := loadConfig()
	logger := initLogger()
	defer logger.Sync()

	metrics.Init()

	prof := loadProfile(cfg, logger)
	n, st, table := initNode(cfg, prof, logger)

	logger.Info("starting",
		zap.String("addr", table.Self().Addr.Short()),
		zap.String("public_host", cfg.PublicHost),
		zap.String("bootstrap", secrets.Redact(cfg.BootstrapURL)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seedPeers(ctx, cfg, n, logger)
	n.Run(ctx)
	go gossip.Run(ctx, table, n.Monitor(), 10*time.Second, logger)

	mux := registerRoutes(n, table, st, cfg, logger)
	handler := newLimiter(cfg.MaxInflight).wrap(mux)
	startServer(ctx, cfg.Host, cfg.Port, handler, logger)

	// Shutdown: persist the routing view, then release the store.
	if err := table.SaveSnapshot(cfg.SnapshotPath()); err != nil {
		logger.Warn("snapshot save failed")
	}
	if err := st.Close(); err != nil {
		logger.Warn("store close failed")
	}
	logger.Info("node stopped")
}
