package node

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/replicate"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/spend"
	"github.com/karstnet/karst/pkg/store"
	"github.com/karstnet/karst/pkg/transport"
	"github.com/karstnet/karst/pkg/xor"
)

// cluster is a set of in-process nodes joined over a loopback wire.
type cluster struct {
	wire  *transport.Loopback
	nodes []*Node
}

func newCluster(t *testing.T, size, k int) *cluster {
	t.Helper()
	c := &cluster{wire: transport.NewLoopback()}
	cfg := Config{
		FailureThreshold: 2,
		Replication:      replicate.Config{Grace: 10 * time.Millisecond},
	}
	for i := 0; i < size; i++ {
		self := routing.Peer{Addr: xor.Random(), Host: fmt.Sprintf("node-%d", i)}
		table := routing.NewTable(self, k, zap.NewNop())
		st, err := store.Open(t.TempDir(), 0, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		dial := &transport.LoopbackDialer{Self: self, Wire: c.wire}
		n := New(table, st, dial, cfg, zap.NewNop())
		c.wire.Register(self.Addr, n)
		c.nodes = append(c.nodes, n)
	}
	// Full-mesh bootstrap; small clusters fit in every table.
	ctx := context.Background()
	for _, n := range c.nodes {
		var seeds []routing.Peer
		for _, o := range c.nodes {
			if o.Self().Addr != n.Self().Addr {
				seeds = append(seeds, o.Self())
			}
		}
		n.Bootstrap(ctx, seeds)
	}
	return c
}

func (c *cluster) sweepAll(ctx context.Context) {
	for _, n := range c.nodes {
		n.Replicator().SweepOnce(ctx)
	}
}

func (c *cluster) holders(addr xor.Address) int {
	held := 0
	for _, n := range c.nodes {
		if _, err := n.GetRecord(context.Background(), n.Self(), addr); err == nil {
			held++
		}
	}
	return held
}

func client(t *testing.T) routing.Peer {
	t.Helper()
	return routing.Peer{Addr: xor.Random(), Host: "client"}
}

func TestPut_ReplicatesToCloseGroup(t *testing.T) {
	c := newCluster(t, 5, 3)
	ctx := context.Background()

	rec := record.NewChunk([]byte("stored once, held thrice"))
	require.NoError(t, c.nodes[0].PutRecord(ctx, client(t), rec))
	c.nodes[0].Replicator().ReplicateAddress(ctx, rec.Address)
	c.sweepAll(ctx)

	require.GreaterOrEqual(t, c.holders(rec.Address), 3,
		"every close-group member holds the record")
}

func TestPut_RejectsForgedChunk(t *testing.T) {
	c := newCluster(t, 1, 3)
	rec := record.NewChunk([]byte("content"))
	rec.Address = xor.Random()
	err := c.nodes[0].PutRecord(context.Background(), client(t), rec)
	require.ErrorIs(t, err, record.ErrHashMismatch)
}

func TestPut_LearnsSender(t *testing.T) {
	c := newCluster(t, 1, 3)
	sender := routing.Peer{Addr: xor.Random(), Host: "newcomer"}
	_ = c.nodes[0].PutRecord(context.Background(), sender, record.NewChunk([]byte("hi")))
	require.True(t, c.nodes[0].Table().Contains(sender.Addr))
}

func TestChurn_SurvivorsKeepTheRecord(t *testing.T) {
	c := newCluster(t, 5, 3)
	ctx := context.Background()

	rec := record.NewChunk([]byte("survives a crash"))
	require.NoError(t, c.nodes[0].PutRecord(ctx, client(t), rec))
	c.nodes[0].Replicator().ReplicateAddress(ctx, rec.Address)
	c.sweepAll(ctx)
	require.GreaterOrEqual(t, c.holders(rec.Address), 3)

	// Kill one holder and evict it from every table.
	var dead *Node
	for _, n := range c.nodes {
		if _, err := n.GetRecord(ctx, n.Self(), rec.Address); err == nil {
			dead = n
			break
		}
	}
	require.NotNil(t, dead)
	c.wire.SetDown(dead.Self().Addr, true)
	for _, n := range c.nodes {
		if n == dead {
			continue
		}
		for i := 0; i < 2; i++ { // FailureThreshold
			n.Monitor().ReportFailure(dead.Self().Addr)
		}
	}
	c.sweepAll(ctx)

	survivors := 0
	for _, n := range c.nodes {
		if n == dead {
			continue
		}
		if _, err := n.GetRecord(ctx, n.Self(), rec.Address); err == nil {
			survivors++
		}
	}
	require.GreaterOrEqual(t, survivors, 3,
		"the reshaped close group re-replicates the record")
}

func TestRegister_ConvergesAcrossNodes(t *testing.T) {
	c := newCluster(t, 3, 3)
	ctx := context.Background()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	addr := record.NewRegisterAddress(priv.Public().(ed25519.PublicKey), []byte("shared"))

	create := record.SignOp(record.RegisterOp{Register: addr, Value: []byte("v0")}, priv)
	left := record.SignOp(record.RegisterOp{Register: addr, Predecessor: create.ID(), Value: []byte("left")}, priv)
	right := record.SignOp(record.RegisterOp{Register: addr, Predecessor: create.ID(), Value: []byte("right")}, priv)

	// Two nodes see divergent histories.
	require.NoError(t, c.nodes[0].PutRecord(ctx, client(t),
		record.NewRegister(addr, []record.RegisterOp{create, left})))
	require.NoError(t, c.nodes[1].PutRecord(ctx, client(t),
		record.NewRegister(addr, []record.RegisterOp{create, right})))

	c.sweepAll(ctx)
	c.sweepAll(ctx)

	// All holders converge on the union and surface both branches.
	for i, n := range c.nodes {
		view, err := n.RegisterView(addr)
		if err != nil {
			continue
		}
		require.True(t, view.Conflicted(), "node %d sees both branches", i)
		require.Len(t, view.Tips, 2)
	}
	v0, err := c.nodes[0].RegisterView(addr)
	require.NoError(t, err)
	v1, err := c.nodes[1].RegisterView(addr)
	require.NoError(t, err)
	require.Equal(t, len(v0.Tips), len(v1.Tips))
}

func TestSpend_ConflictVisibleClusterWide(t *testing.T) {
	c := newCluster(t, 3, 3)
	ctx := context.Background()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	in := xor.Random()
	first := record.SignSpend(record.Spend{
		Inputs:  []xor.Address{in},
		Outputs: []record.SpendOutput{{Address: xor.Random(), Amount: 10}},
	}, priv)
	second := record.SignSpend(record.Spend{
		Inputs:  []xor.Address{in},
		Outputs: []record.SpendOutput{{Address: xor.Random(), Amount: 10}},
	}, priv)

	// Competing spends land on different nodes first.
	require.NoError(t, c.nodes[0].SubmitSpend(ctx, client(t), first))
	require.ErrorIs(t, c.nodes[0].SubmitSpend(ctx, client(t), second), spend.ErrDoubleSpend)

	c.sweepAll(ctx)
	c.sweepAll(ctx)

	// Every holder reports the conflict; the client aggregate is
	// ambiguous.
	var views []spend.View
	for _, n := range c.nodes {
		v, err := n.SpendView(ctx, client(t), in)
		require.NoError(t, err)
		if len(v.Spends) > 0 {
			require.True(t, v.Conflict)
			views = append(views, v)
		}
	}
	require.NotEmpty(t, views)
	require.Equal(t, spend.Ambiguous, spend.Aggregate(views, 3, 0.6))
}

func TestSpend_CleanSpendConfirms(t *testing.T) {
	c := newCluster(t, 3, 3)
	ctx := context.Background()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	in := xor.Random()
	s := record.SignSpend(record.Spend{
		Inputs:  []xor.Address{in},
		Outputs: []record.SpendOutput{{Address: xor.Random(), Amount: 10}},
	}, priv)
	require.NoError(t, c.nodes[0].SubmitSpend(ctx, client(t), s))
	c.sweepAll(ctx)

	var views []spend.View
	for _, n := range c.nodes {
		v, err := n.SpendView(ctx, client(t), in)
		require.NoError(t, err)
		views = append(views, v)
	}
	require.Equal(t, spend.Confirmed, spend.Aggregate(views, 3, 0.6))
}

// SpendStatus does the group poll and quorum fold server-side, driven
// by the configured quorum fraction.
func TestSpendStatus_PollsCloseGroup(t *testing.T) {
	c := newCluster(t, 3, 3)
	ctx := context.Background()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	in := xor.Random()
	require.Equal(t, spend.Unconfirmed, c.nodes[0].SpendStatus(ctx, in))

	s := record.SignSpend(record.Spend{
		Inputs:  []xor.Address{in},
		Outputs: []record.SpendOutput{{Address: xor.Random(), Amount: 10}},
	}, priv)
	require.NoError(t, c.nodes[0].SubmitSpend(ctx, client(t), s))
	c.sweepAll(ctx)

	for _, n := range c.nodes {
		require.Equal(t, spend.Confirmed, n.SpendStatus(ctx, in),
			"every member sees the same quorum")
	}

	rival := record.SignSpend(record.Spend{
		Inputs:  []xor.Address{in},
		Outputs: []record.SpendOutput{{Address: xor.Random(), Amount: 10}},
	}, priv)
	require.ErrorIs(t, c.nodes[1].SubmitSpend(ctx, client(t), rival), spend.ErrDoubleSpend)
	c.sweepAll(ctx)

	require.Equal(t, spend.Ambiguous, c.nodes[0].SpendStatus(ctx, in))
}

func TestBootstrap_AdoptsSeedRecords(t *testing.T) {
	c := newCluster(t, 2, 3)
	ctx := context.Background()

	rec := record.NewChunk([]byte("pre-existing"))
	require.NoError(t, c.nodes[0].PutRecord(ctx, client(t), rec))

	// A new node joins via node 0 and asks for coverage.
	self := routing.Peer{Addr: xor.Random(), Host: "node-new"}
	table := routing.NewTable(self, 3, zap.NewNop())
	st, err := store.Open(t.TempDir(), 0, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()
	joiner := New(table, st, &transport.LoopbackDialer{Self: self, Wire: c.wire},
		Config{Replication: replicate.Config{}}, zap.NewNop())
	c.wire.Register(self.Addr, joiner)

	joiner.Bootstrap(ctx, []routing.Peer{c.nodes[0].Self()})
	require.True(t, joiner.Table().Contains(c.nodes[0].Self().Addr))

	// The holder's next sweep pushes the record to the joiner.
	c.nodes[0].Replicator().SweepOnce(ctx)
	_, err = joiner.GetRecord(ctx, joiner.Self(), rec.Address)
	require.NoError(t, err)
}

func TestPing_LearnsPeer(t *testing.T) {
	c := newCluster(t, 1, 3)
	p := routing.Peer{Addr: xor.Random(), Host: "pinger"}
	require.NoError(t, c.nodes[0].Ping(context.Background(), p))
	require.True(t, c.nodes[0].Table().Contains(p.Addr))
}

func TestRegisterView_Missing(t *testing.T) {
	c := newCluster(t, 1, 3)
	_, err := c.nodes[0].RegisterView(xor.Random())
	require.ErrorIs(t, err, store.ErrNotFound)
}
