package transport

import (
	"context"
	"sync"

	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/spend"
	"github.com/karstnet/karst/pkg/xor"
)

// Loopback is an in-process wire for multi-node tests: every node
// registers its NodeAPI and dials others through the shared instance.
// Marking a node down makes calls to it fail with ErrUnreachable,
// which is how tests simulate churn.
type Loopback struct {
	mu    sync.RWMutex
	nodes map[xor.Address]NodeAPI
	down  map[xor.Address]bool
}

func NewLoopback() *Loopback {
	return &Loopback{
		nodes: make(map[xor.Address]NodeAPI),
		down:  make(map[xor.Address]bool),
	}
}

func (l *Loopback) Register(addr xor.Address, api NodeAPI) {
	l.mu.Lock()
	l.nodes[addr] = api
	l.mu.Unlock()
}

// SetDown toggles reachability of a node without unregistering it.
func (l *Loopback) SetDown(addr xor.Address, down bool) {
	l.mu.Lock()
	l.down[addr] = down
	l.mu.Unlock()
}

func (l *Loopback) target(addr xor.Address) (NodeAPI, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.down[addr] {
		return nil, ErrUnreachable
	}
	api, ok := l.nodes[addr]
	if !ok {
		return nil, ErrUnreachable
	}
	return api, nil
}

// LoopbackDialer dials through a Loopback on behalf of one node.
type LoopbackDialer struct {
	Self routing.Peer
	Wire *Loopback
}

func (d *LoopbackDialer) Dial(p routing.Peer) Client {
	return &loopbackClient{self: d.Self, target: p.Addr, wire: d.Wire}
}

type loopbackClient struct {
	self   routing.Peer
	target xor.Address
	wire   *Loopback
}

// call also checks that the caller itself has not been marked down, so
// a "killed" node cannot keep talking to the cluster.
func (c *loopbackClient) call(fn func(NodeAPI) error) error {
	if _, err := c.wire.target(c.self.Addr); err != nil {
		return err
	}
	api, err := c.wire.target(c.target)
	if err != nil {
		return err
	}
	return fn(api)
}

func (c *loopbackClient) PutRecord(ctx context.Context, rec record.Record) error {
	return c.call(func(api NodeAPI) error { return api.PutRecord(ctx, c.self, rec) })
}

func (c *loopbackClient) GetRecord(ctx context.Context, addr xor.Address) (record.Record, error) {
	var rec record.Record
	err := c.call(func(api NodeAPI) error {
		var e error
		rec, e = api.GetRecord(ctx, c.self, addr)
		return e
	})
	return rec, err
}

func (c *loopbackClient) ReplicateRequest(ctx context.Context, addr xor.Address) error {
	return c.call(func(api NodeAPI) error { return api.ReplicateRequest(ctx, c.self, addr) })
}

func (c *loopbackClient) Manifest(ctx context.Context, entries []ManifestEntry) ([]ManifestEntry, error) {
	var out []ManifestEntry
	err := c.call(func(api NodeAPI) error {
		var e error
		out, e = api.Manifest(ctx, c.self, entries)
		return e
	})
	return out, err
}

func (c *loopbackClient) SubmitSpend(ctx context.Context, s record.Spend) error {
	return c.call(func(api NodeAPI) error { return api.SubmitSpend(ctx, c.self, s) })
}

func (c *loopbackClient) SpendView(ctx context.Context, addr xor.Address) (spend.View, error) {
	var view spend.View
	err := c.call(func(api NodeAPI) error {
		var e error
		view, e = api.SpendView(ctx, c.self, addr)
		return e
	})
	return view, err
}

func (c *loopbackClient) Ping(ctx context.Context) error {
	return c.call(func(api NodeAPI) error { return api.Ping(ctx, c.self) })
}
