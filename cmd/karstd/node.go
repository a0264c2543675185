package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/bootstrap"
	"github.com/karstnet/karst/pkg/node"
	"github.com/karstnet/karst/pkg/profile"
	"github.com/karstnet/karst/pkg/replicate"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/store"
	"github.com/karstnet/karst/pkg/transport"
	"github.com/karstnet/karst/pkg/xor"
)

func loadProfile(cfg config, logger *zap.Logger) profile.Profile {
	if cfg.ProfilePath == "" {
		return profile.Default()
	}
	prof, err := profile.Load(cfg.ProfilePath, logger)
	if err != nil {
		logger.Fatal("profile_load_error", zap.Error(err))
	}
	return prof
}

// loadIdentity reads or mints this node's address. The address must be
// stable across restarts so the node can re-derive its coverage.
func loadIdentity(path string, logger *zap.Logger) xor.Address {
	if body, err := os.ReadFile(path); err == nil {
		addr, err := xor.FromHex(string(body))
		if err == nil {
			return addr
		}
		logger.Warn("identity file corrupt, minting a new one", zap.Error(err))
	}
	addr := xor.Random()
	if err := os.WriteFile(path, []byte(addr.String()), 0o600); err != nil {
		logger.Fatal("identity_write_error", zap.Error(err))
	}
	return addr
}

func initNode(cfg config, prof profile.Profile, logger *zap.Logger) (*node.Node, *store.Store, *routing.Table) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logger.Fatal("data_dir_error", zap.Error(err))
	}

	self := routing.Peer{
		Addr: loadIdentity(cfg.IdentityPath(), logger),
		Host: cfg.PublicHost,
	}
	logger.Info("node identity",
		zap.String("addr", self.Addr.String()),
		zap.String("host", self.Host))

	table := routing.NewTable(self, prof.CloseGroupSize, logger)

	st, err := store.Open(cfg.StoreDir(), prof.Capacity, logger)
	if err != nil {
		logger.Fatal("store_open_error", zap.Error(err))
	}

	dial := transport.NewHTTPDialer(self, time.Duration(prof.CallTimeoutMs)*time.Millisecond)
	n := node.New(table, st, dial, node.Config{
		FailureThreshold: prof.FailureThreshold,
		ProbeInterval:    time.Duration(prof.ProbeIntervalMs) * time.Millisecond,
		ProbeBatch:       prof.ProbeBatch,
		CallTimeout:      time.Duration(prof.CallTimeoutMs) * time.Millisecond,
		QuorumFraction:   prof.QuorumFraction,
		Replication: replicate.Config{
			SweepInterval:    time.Duration(prof.SweepIntervalMs) * time.Millisecond,
			Grace:            time.Duration(prof.GraceMs) * time.Millisecond,
			CallTimeout:      time.Duration(prof.CallTimeoutMs) * time.Millisecond,
			AntiEntropyEvery: prof.AntiEntropyEvery,
		},
	}, logger)

	return n, st, table
}

// seedPeers rebuilds the routing view from the persisted snapshot and
// the bootstrap server, then lets the node re-derive which addresses
// it covers.
func seedPeers(ctx context.Context, cfg config, n *node.Node, logger *zap.Logger) {
	var seeds []routing.Peer
	if snap, err := routing.LoadSnapshot(cfg.SnapshotPath()); err != nil {
		logger.Warn("snapshot_load_error", zap.Error(err))
	} else {
		seeds = append(seeds, snap...)
	}

	if cfg.BootstrapURL != "" {
		list, err := bootstrap.Announce(cfg.BootstrapURL, n.Self(), cfg.SharedSecret, logger)
		if err != nil {
			logger.Warn("bootstrap_error", zap.Error(err))
		} else {
			seeds = append(seeds, list...)
		}
	}

	n.Bootstrap(ctx, seeds)
}
