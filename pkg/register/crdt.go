// Package register implements the op-based register CRDT. A register
// is its operation history: a DAG of signed ops keyed by content-hash
// id. Merging replicas is set union, which is commutative, associative
// and idempotent; concurrent edits surface as multiple branch tips and
// are never silently collapsed.
package register

import (
	"fmt"
	"sort"

	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/xor"
)

// pendingCap bounds the parked-op set so a flood of orphan ops cannot
// grow memory without limit.
const pendingCap = 512

// History is one replica's view of a register. Ops whose predecessor
// has not arrived yet are parked and applied once the gap fills, so
// the visible value is always causally consistent.
type History struct {
	addr    xor.Address
	ops     map[xor.Address]record.RegisterOp
	pending map[xor.Address][]record.RegisterOp // keyed by missing predecessor
	parked  int
}

func NewHistory(addr xor.Address) *History {
	return &History{
		addr:    addr,
		ops:     make(map[xor.Address]record.RegisterOp),
		pending: make(map[xor.Address][]record.RegisterOp),
	}
}

// FromOps rebuilds a replica from a stored op set.
func FromOps(addr xor.Address, ops []record.RegisterOp) *History {
	h := NewHistory(addr)
	h.Merge(ops)
	return h
}

func (h *History) Len() int { return len(h.ops) }

// Contains reports whether the op id is in the applied set.
func (h *History) Contains(id xor.Address) bool {
	_, ok := h.ops[id]
	return ok
}

// Apply adds a single op. It returns true if the op entered the
// applied set, false if it was parked awaiting its predecessor (or was
// already known). Ops for a different register are an error.
func (h *History) Apply(op record.RegisterOp) (bool, error) {
	if op.Register != h.addr {
		return false, fmt.Errorf("%w: op for register %s applied to %s",
			record.ErrMalformed, op.Register.Short(), h.addr.Short())
	}
	id := op.ID()
	if _, ok := h.ops[id]; ok {
		return false, nil
	}
	if !op.IsCreate() {
		if _, ok := h.ops[op.Predecessor]; !ok {
			h.park(op)
			return false, nil
		}
	}
	h.ops[id] = op
	h.unpark(id)
	return true, nil
}

// Merge unions another replica's op set into this one. Order of merges
// and duplicate deliveries do not change the result.
func (h *History) Merge(ops []record.RegisterOp) {
	for _, op := range ops {
		_, _ = h.Apply(op)
	}
}

func (h *History) park(op record.RegisterOp) {
	id := op.ID()
	waiting := h.pending[op.Predecessor]
	for _, w := range waiting {
		if w.ID() == id {
			return
		}
	}
	if h.parked >= pendingCap {
		return
	}
	h.pending[op.Predecessor] = append(waiting, op)
	h.parked++
}

// unpark applies any ops that were waiting on the newly applied id,
// cascading through chains of parked successors.
func (h *History) unpark(id xor.Address) {
	ready := h.pending[id]
	if ready == nil {
		return
	}
	delete(h.pending, id)
	h.parked -= len(ready)
	for _, op := range ready {
		opID := op.ID()
		if _, ok := h.ops[opID]; ok {
			continue
		}
		h.ops[opID] = op
		h.unpark(opID)
	}
}

// Ops returns the applied set sorted by id, a canonical order shared
// by all replicas that hold the same set.
func (h *History) Ops() []record.RegisterOp {
	out := make([]record.RegisterOp, 0, len(h.ops))
	for _, op := range h.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().Less(out[j].ID()) })
	return out
}

// View is the register's current value(s): the ops no later op
// references. One tip is a settled value; several tips are concurrent
// edits the caller must handle explicitly.
type View struct {
	Tips []record.RegisterOp
}

// Conflicted reports whether the register has concurrent branch tips.
func (v View) Conflicted() bool { return len(v.Tips) > 1 }

// Value returns the single current value, or false when the register
// is empty or conflicted.
func (v View) Value() ([]byte, bool) {
	if len(v.Tips) != 1 {
		return nil, false
	}
	return v.Tips[0].Value, true
}

// View derives the branch tips from the applied set.
func (h *History) View() View {
	referenced := make(map[xor.Address]struct{}, len(h.ops))
	for _, op := range h.ops {
		if !op.IsCreate() {
			referenced[op.Predecessor] = struct{}{}
		}
	}
	var tips []record.RegisterOp
	for id, op := range h.ops {
		if _, ok := referenced[id]; !ok {
			tips = append(tips, op)
		}
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].ID().Less(tips[j].ID()) })
	return View{Tips: tips}
}
