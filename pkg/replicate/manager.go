// Package replicate keeps every record on its current close group as
// membership churns. It reacts to routing and store events, runs a
// periodic sweep as the backstop, and reconciles divergence with
// manifest exchanges. All of it is best-effort per cycle; correctness
// comes from the sweep eventually reaching a quorum of the group.
package replicate

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/churn"
	"github.com/karstnet/karst/pkg/metrics"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/store"
	"github.com/karstnet/karst/pkg/transport"
	"github.com/karstnet/karst/pkg/xor"
)

type Config struct {
	// SweepInterval is the periodic full-sweep cadence.
	SweepInterval time.Duration
	// Grace is how long an uncovered record is retained before being
	// dropped, tolerating transient routing flaps.
	Grace time.Duration
	// CallTimeout bounds every remote call the manager makes.
	CallTimeout time.Duration
	// AntiEntropyEvery runs a manifest exchange once per this many
	// sweeps. Zero disables anti-entropy.
	AntiEntropyEvery int
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 2 * c.SweepInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
}

type Manager struct {
	table  *routing.Table
	store  *store.Store
	dial   transport.Dialer
	churn  *churn.Monitor
	locks  *store.AddrLocks
	logger *zap.Logger
	cfg    Config

	graceMu sync.Mutex
	grace   map[xor.Address]time.Time // uncovered address -> drop deadline
}

func NewManager(table *routing.Table, st *store.Store, dial transport.Dialer, monitor *churn.Monitor, locks *store.AddrLocks, cfg Config, logger *zap.Logger) *Manager {
	cfg.applyDefaults()
	return &Manager{
		table:  table,
		store:  st,
		dial:   dial,
		churn:  monitor,
		locks:  locks,
		logger: logger,
		cfg:    cfg,
		grace:  make(map[xor.Address]time.Time),
	}
}

// Run drives replication until ctx is done: table change events and
// local store events trigger targeted work, the ticker sweeps
// everything.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.SweepInterval)
	defer t.Stop()
	sweeps := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.SweepOnce(ctx)
			sweeps++
			if m.cfg.AntiEntropyEvery > 0 && sweeps%m.cfg.AntiEntropyEvery == 0 {
				m.antiEntropyOnce(ctx)
			}
		case ev := <-m.table.Events():
			m.onTableChange(ctx, ev)
		case ev := <-m.store.Events():
			if ev.Op == store.OpPut {
				m.ReplicateAddress(ctx, ev.Address)
			}
		}
	}
}

// SweepOnce walks every held address once: push records we are
// responsible for, and age out records whose close group we left.
func (m *Manager) SweepOnce(ctx context.Context) {
	now := time.Now()
	for _, addr := range m.store.Addresses() {
		if ctx.Err() != nil {
			return
		}
		_, member := m.table.CloseGroup(addr)
		if member {
			m.clearGrace(addr)
			m.ReplicateAddress(ctx, addr)
			continue
		}
		m.ageOut(addr, now)
	}
}

// onTableChange recomputes coverage for held addresses whose close
// group could have been altered by the event. Any join or leave can
// shift group boundaries, so the targeted pass covers all held
// addresses; it is cheap because CloseGroup is an in-memory
// computation and pushes are idempotent.
func (m *Manager) onTableChange(ctx context.Context, ev routing.Event) {
	m.logger.Debug("table change, recomputing coverage",
		zap.Uint64("version", ev.Version),
		zap.String("peer", ev.Peer.Addr.Short()))
	m.SweepOnce(ctx)
}

// ReplicateAddress pushes the record at addr to every other member of
// its current close group. Unreachable members are reported to the
// churn monitor and skipped until the next trigger.
func (m *Manager) ReplicateAddress(ctx context.Context, addr xor.Address) {
	rec, err := m.store.Get(addr)
	if err != nil {
		return
	}
	group, member := m.table.CloseGroup(addr)
	if !member {
		return
	}

	self := m.table.Self().Addr
	allPushed := true
	for _, p := range group {
		if p.Addr == self {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		err := m.dial.Dial(p).PutRecord(cctx, rec)
		cancel()
		if err != nil {
			allPushed = false
			metrics.ReplicationFailures.Inc()
			m.churn.ReportFailure(p.Addr)
			m.logger.Debug("replication push failed",
				zap.String("addr", addr.Short()),
				zap.String("peer", p.Addr.Short()),
				zap.Error(err))
			continue
		}
		metrics.ReplicationPushes.Inc()
		m.churn.ReportSuccess(p)
	}
	if allPushed {
		m.store.MarkReplicated(addr, time.Now())
	}
}

// HandleReplicateRequest serves a peer that claims close-group
// membership for addr: learn the peer, and if we hold the record, push
// it straight back to them.
func (m *Manager) HandleReplicateRequest(ctx context.Context, from routing.Peer, addr xor.Address) error {
	m.table.Insert(from)
	rec, err := m.store.Get(addr)
	if err != nil {
		return nil // nothing to offer
	}
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if err := m.dial.Dial(from).PutRecord(cctx, rec); err != nil {
		metrics.ReplicationFailures.Inc()
		m.churn.ReportFailure(from.Addr)
		return err
	}
	metrics.ReplicationPushes.Inc()
	return nil
}

func (m *Manager) clearGrace(addr xor.Address) {
	m.graceMu.Lock()
	delete(m.grace, addr)
	m.graceMu.Unlock()
}

// ageOut starts or checks the grace clock on an uncovered address and
// drops the record once the deadline passes.
func (m *Manager) ageOut(addr xor.Address, now time.Time) {
	m.graceMu.Lock()
	deadline, tracked := m.grace[addr]
	if !tracked {
		m.grace[addr] = now.Add(m.cfg.Grace)
		m.graceMu.Unlock()
		return
	}
	if now.Before(deadline) {
		m.graceMu.Unlock()
		return
	}
	delete(m.grace, addr)
	m.graceMu.Unlock()

	unlock := m.locks.Lock(addr)
	defer unlock()
	if err := m.store.Remove(addr); err != nil {
		m.logger.Warn("drop of uncovered record failed",
			zap.String("addr", addr.Short()), zap.Error(err))
		return
	}
	metrics.ReplicationDrops.Inc()
	m.logger.Debug("dropped record outside close group",
		zap.String("addr", addr.Short()))
}

// antiEntropyOnce exchanges manifests with one random peer and pulls
// whatever they hold that we lack or disagree on.
func (m *Manager) antiEntropyOnce(ctx context.Context) {
	peers := m.table.Peers()
	if len(peers) == 0 {
		return
	}
	p := peers[rand.Intn(len(peers))]

	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	theirs, err := m.dial.Dial(p).Manifest(cctx, m.ManifestFor(p))
	cancel()
	if err != nil {
		m.churn.ReportFailure(p.Addr)
		return
	}
	m.churn.ReportSuccess(p)
	m.Reconcile(ctx, p, theirs)
}
