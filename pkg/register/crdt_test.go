package register

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/xor"
)

type fixture struct {
	priv ed25519.PrivateKey
	addr xor.Address
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return fixture{
		priv: priv,
		addr: record.NewRegisterAddress(priv.Public().(ed25519.PublicKey), []byte("reg")),
	}
}

func (f fixture) op(value string, pred xor.Address) record.RegisterOp {
	return record.SignOp(record.RegisterOp{
		Register:    f.addr,
		Predecessor: pred,
		Value:       []byte(value),
	}, f.priv)
}

func TestApply_CreateAndEdit(t *testing.T) {
	f := newFixture(t)
	h := NewHistory(f.addr)

	create := f.op("v0", xor.Zero)
	applied, err := h.Apply(create)
	require.NoError(t, err)
	require.True(t, applied)

	edit := f.op("v1", create.ID())
	applied, err = h.Apply(edit)
	require.NoError(t, err)
	require.True(t, applied)

	v, ok := h.View().Value()
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)
}

func TestApply_Idempotent(t *testing.T) {
	f := newFixture(t)
	h := NewHistory(f.addr)
	create := f.op("v0", xor.Zero)

	applied, err := h.Apply(create)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = h.Apply(create)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, 1, h.Len())
}

func TestApply_RejectsForeignRegister(t *testing.T) {
	f := newFixture(t)
	h := NewHistory(xor.Random())
	_, err := h.Apply(f.op("v", xor.Zero))
	require.ErrorIs(t, err, record.ErrMalformed)
}

func TestApply_ParksUntilPredecessorArrives(t *testing.T) {
	f := newFixture(t)
	h := NewHistory(f.addr)

	create := f.op("v0", xor.Zero)
	edit := f.op("v1", create.ID())
	edit2 := f.op("v2", edit.ID())

	// Arrive out of causal order: nothing visible yet.
	applied, err := h.Apply(edit2)
	require.NoError(t, err)
	require.False(t, applied)
	applied, err = h.Apply(edit)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, 0, h.Len())

	// The create unparks the whole chain.
	applied, err = h.Apply(create)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, 3, h.Len())

	v, ok := h.View().Value()
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)
}

func TestView_ConcurrentEditsSurfaceAsBranches(t *testing.T) {
	f := newFixture(t)
	h := NewHistory(f.addr)

	create := f.op("v0", xor.Zero)
	left := f.op("left", create.ID())
	right := f.op("right", create.ID())
	h.Merge([]record.RegisterOp{create, left, right})

	view := h.View()
	require.True(t, view.Conflicted())
	require.Len(t, view.Tips, 2)
	_, ok := view.Value()
	require.False(t, ok, "conflicted register must not pretend to have one value")
}

// CRDT convergence: merging the same ops in any order and grouping
// yields an identical op set and view.
func TestMerge_ConvergesUnderAnyOrder(t *testing.T) {
	f := newFixture(t)

	create := f.op("v0", xor.Zero)
	a := f.op("a", create.ID())
	b := f.op("b", create.ID())
	c := f.op("c", a.ID())
	ops := []record.RegisterOp{create, a, b, c}

	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 3, 0, 1},
		{1, 3, 2, 0},
	}
	var fingerprints []xor.Address
	for _, order := range orders {
		h := NewHistory(f.addr)
		for _, i := range order {
			h.Merge([]record.RegisterOp{ops[i]})
		}
		require.Equal(t, 4, h.Len())
		fingerprints = append(fingerprints, record.NewRegister(f.addr, h.Ops()).Fingerprint())

		view := h.View()
		require.Len(t, view.Tips, 2) // b and c are concurrent tips
	}
	for i := 1; i < len(fingerprints); i++ {
		require.Equal(t, fingerprints[0], fingerprints[i])
	}
}

// Replica pairwise merge: A merge B equals B merge A.
func TestMerge_Commutative(t *testing.T) {
	f := newFixture(t)
	create := f.op("v0", xor.Zero)
	e1 := f.op("e1", create.ID())
	e2 := f.op("e2", create.ID())

	ha := FromOps(f.addr, []record.RegisterOp{create, e1})
	hb := FromOps(f.addr, []record.RegisterOp{create, e2})

	ab := FromOps(f.addr, ha.Ops())
	ab.Merge(hb.Ops())
	ba := FromOps(f.addr, hb.Ops())
	ba.Merge(ha.Ops())

	require.Equal(t, ab.Len(), ba.Len())
	require.Equal(t,
		record.NewRegister(f.addr, ab.Ops()).Fingerprint(),
		record.NewRegister(f.addr, ba.Ops()).Fingerprint())
}
