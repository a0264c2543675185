// Package node assembles the core engine: routing table, record
// store, spend engine, replication manager and churn monitor, exposed
// to peers as the transport.NodeAPI surface.
package node

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/churn"
	"github.com/karstnet/karst/pkg/metrics"
	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/register"
	"github.com/karstnet/karst/pkg/replicate"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/spend"
	"github.com/karstnet/karst/pkg/store"
	"github.com/karstnet/karst/pkg/transport"
	"github.com/karstnet/karst/pkg/xor"
)

type Config struct {
	// FailureThreshold is the consecutive failed contacts before a
	// peer is evicted.
	FailureThreshold int
	// ProbeInterval and ProbeBatch drive the liveness prober.
	ProbeInterval time.Duration
	ProbeBatch    int
	// CallTimeout bounds every outbound call.
	CallTimeout time.Duration
	// QuorumFraction is the share of a close group that must agree
	// before a spend counts as confirmed.
	QuorumFraction float64
	// Replication tunes the replication manager.
	Replication replicate.Config
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Second
	}
	if c.ProbeBatch <= 0 {
		c.ProbeBatch = 4
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.QuorumFraction <= 0 {
		c.QuorumFraction = 0.6
	}
	if c.Replication.CallTimeout <= 0 {
		c.Replication.CallTimeout = c.CallTimeout
	}
}

type Node struct {
	self    routing.Peer
	table   *routing.Table
	store   *store.Store
	dial    transport.Dialer
	locks   *store.AddrLocks
	engine  *spend.Engine
	repl    *replicate.Manager
	monitor *churn.Monitor
	logger  *zap.Logger
	cfg     Config
}

var _ transport.NodeAPI = (*Node)(nil)

func New(table *routing.Table, st *store.Store, dial transport.Dialer, cfg Config, logger *zap.Logger) *Node {
	cfg.applyDefaults()
	locks := &store.AddrLocks{}
	monitor := churn.NewMonitor(table, cfg.FailureThreshold, logger)
	n := &Node{
		self:    table.Self(),
		table:   table,
		store:   st,
		dial:    dial,
		locks:   locks,
		engine:  spend.New(st, locks, logger),
		repl:    replicate.NewManager(table, st, dial, monitor, locks, cfg.Replication, logger),
		monitor: monitor,
		logger:  logger,
		cfg:     cfg,
	}
	// Records this node holds alone must survive eviction pressure.
	st.SetProtected(func(addr xor.Address) bool {
		group, member := table.CloseGroup(addr)
		return member && len(group) == 1
	})
	return n
}

func (n *Node) Self() routing.Peer             { return n.self }
func (n *Node) Table() *routing.Table          { return n.table }
func (n *Node) Monitor() *churn.Monitor        { return n.monitor }
func (n *Node) Replicator() *replicate.Manager { return n.repl }

// Run starts the background loops: replication and liveness probing.
func (n *Node) Run(ctx context.Context) {
	go n.repl.Run(ctx)
	go n.monitor.Run(ctx, n.cfg.ProbeInterval, n.cfg.CallTimeout, n.cfg.ProbeBatch, n.probe)
}

func (n *Node) probe(ctx context.Context, p routing.Peer) error {
	return n.dial.Dial(p).Ping(ctx)
}

// Bootstrap seeds the routing table and re-derives coverage before
// normal replication resumes. Each live seed is pinged so it learns us
// back; its next sweep then pushes whatever we should now hold. On
// restart the node does not assume its prior close-group
// responsibilities still hold; the sweep recomputes them from the
// fresh table.
func (n *Node) Bootstrap(ctx context.Context, seeds []routing.Peer) {
	for _, p := range seeds {
		if p.Addr.IsZero() || p.Addr == n.self.Addr {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, n.cfg.CallTimeout)
		err := n.dial.Dial(p).Ping(cctx)
		cancel()
		if err != nil {
			n.logger.Warn("seed unreachable",
				zap.String("peer", p.Addr.Short()), zap.Error(err))
			continue
		}
		n.learn(p)
	}
	n.repl.SweepOnce(ctx)
	n.logger.Info("bootstrap complete",
		zap.Int("peers", n.table.Len()),
		zap.Int("records", n.store.Count()))
}

// learn folds a sender into the routing table; every inbound message
// is also a liveness observation.
func (n *Node) learn(p routing.Peer) {
	if p.Addr.IsZero() || p.Addr == n.self.Addr {
		return
	}
	p.LastSeen = time.Now()
	if n.table.Insert(p) {
		metrics.TablePeers.Set(float64(n.table.Len()))
	}
}

// PutRecord validates and stores a record, merging register histories
// and spend sets with what is already held. Operations on one address
// are serialized by the stripe lock; different addresses proceed in
// parallel.
func (n *Node) PutRecord(ctx context.Context, from routing.Peer, rec record.Record) error {
	n.learn(from)
	if err := rec.Validate(); err != nil {
		return err
	}
	unlock := n.locks.Lock(rec.Address)
	defer unlock()
	if held, err := n.store.Get(rec.Address); err == nil {
		rec = record.Merge(held, rec)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return n.store.Put(rec)
}

func (n *Node) GetRecord(ctx context.Context, from routing.Peer, addr xor.Address) (record.Record, error) {
	n.learn(from)
	return n.store.Get(addr)
}

func (n *Node) ReplicateRequest(ctx context.Context, from routing.Peer, addr xor.Address) error {
	n.learn(from)
	return n.repl.HandleReplicateRequest(ctx, from, addr)
}

func (n *Node) Manifest(ctx context.Context, from routing.Peer, entries []transport.ManifestEntry) ([]transport.ManifestEntry, error) {
	n.learn(from)
	return n.repl.HandleManifest(ctx, from, entries)
}

// SubmitSpend records a spend at each consumed output. A conflicting
// prior spend surfaces as spend.ErrDoubleSpend while the evidence is
// retained; replication then carries both records to the rest of the
// close group.
func (n *Node) SubmitSpend(ctx context.Context, from routing.Peer, s record.Spend) error {
	n.learn(from)
	return n.engine.Submit(s)
}

// SpendView returns this node's raw local view; aggregation across the
// close group is the caller's job.
func (n *Node) SpendView(ctx context.Context, from routing.Peer, addr xor.Address) (spend.View, error) {
	n.learn(from)
	return n.engine.ViewOf(addr), nil
}

// SpendStatus polls the close group of addr for their spend views and
// folds them into a network confirmation using the configured quorum
// fraction. Unreachable members simply contribute no view; a thin
// group can only ever report Unconfirmed or Ambiguous, never a false
// Confirmed.
func (n *Node) SpendStatus(ctx context.Context, addr xor.Address) spend.Confirmation {
	group, member := n.table.CloseGroup(addr)
	views := make([]spend.View, 0, len(group))
	if member {
		views = append(views, n.engine.ViewOf(addr))
	}
	for _, p := range group {
		if p.Addr == n.self.Addr {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, n.cfg.CallTimeout)
		v, err := n.dial.Dial(p).SpendView(cctx, addr)
		cancel()
		if err != nil {
			n.monitor.ReportFailure(p.Addr)
			continue
		}
		n.monitor.ReportSuccess(p)
		views = append(views, v)
	}
	return spend.Aggregate(views, len(group), n.cfg.QuorumFraction)
}

func (n *Node) Ping(ctx context.Context, from routing.Peer) error {
	n.learn(from)
	return nil
}

// RegisterView derives the causally consistent view of a locally held
// register: one tip is the settled value, several are surfaced as
// concurrent branches.
func (n *Node) RegisterView(addr xor.Address) (register.View, error) {
	rec, err := n.store.Get(addr)
	if err != nil {
		return register.View{}, err
	}
	return register.FromOps(addr, rec.Ops).View(), nil
}
