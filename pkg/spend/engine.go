// Package spend validates value transfers without a ledger. Every
// spend of an output lands at that output's address, so the close
// group holding the address sees every competing spend: conflict
// detection is a local lookup. Conflicting spends are stored alongside
// each other as evidence, never merged or discarded.
package spend

import (
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/metrics"
	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/store"
	"github.com/karstnet/karst/pkg/xor"
)

// ErrDoubleSpend is returned when a submitted spend conflicts with one
// already held. The new record is still stored; the error tells the
// caller the output is burnt.
var ErrDoubleSpend = errors.New("double spend detected")

// Status is the local state of one output address.
type Status uint8

const (
	Unspent Status = iota
	Spent
	DoubleSpent
)

func (s Status) String() string {
	switch s {
	case Spent:
		return "spent"
	case DoubleSpent:
		return "double_spent"
	default:
		return "unspent"
	}
}

// View is this node's raw, unaggregated answer to "has this output
// been spent". Callers aggregate views across the close group
// themselves; the node never pre-aggregates.
type View struct {
	Address  xor.Address    `json:"address"`
	Spends   []record.Spend `json:"spends"`
	Conflict bool           `json:"conflict"`
}

func (v View) Status() Status {
	switch {
	case v.Conflict:
		return DoubleSpent
	case len(v.Spends) > 0:
		return Spent
	default:
		return Unspent
	}
}

type Engine struct {
	store  *store.Store
	locks  *store.AddrLocks
	logger *zap.Logger
}

// New builds the engine. The locks must be the same instance the node
// uses for record puts, so check-then-store on an address is atomic
// across both paths.
func New(st *store.Store, locks *store.AddrLocks, logger *zap.Logger) *Engine {
	return &Engine{store: st, locks: locks, logger: logger}
}

// Submit verifies a spend and records it at each input address.
// Resubmitting an identical spend is a no-op. A different spend
// already held for any input marks that input double-spent: the new
// record is stored next to the old one and ErrDoubleSpend is returned.
func (e *Engine) Submit(s record.Spend) error {
	if err := s.Verify(); err != nil {
		return err
	}
	id := s.ID()

	// Inputs are processed one at a time; no two stripes are held at
	// once, so submissions cannot deadlock whatever their input order.
	inputs := append([]xor.Address(nil), s.Inputs...)
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Less(inputs[j]) })

	conflicted := false
	for _, in := range inputs {
		unlock := e.locks.Lock(in)
		conflict, err := e.recordAt(in, s)
		unlock()
		if err != nil {
			return err
		}
		if conflict {
			conflicted = true
		}
	}

	if conflicted {
		metrics.DoubleSpends.Inc()
		e.logger.Warn("double spend observed", zap.String("spend", id.Short()))
		return ErrDoubleSpend
	}
	e.logger.Debug("spend recorded", zap.String("spend", id.Short()),
		zap.Int("inputs", len(s.Inputs)))
	return nil
}

// recordAt appends the spend to the set held at addr. Returns whether
// the set now holds conflicting spends. Caller holds the addr stripe.
func (e *Engine) recordAt(addr xor.Address, s record.Spend) (bool, error) {
	rec, err := e.store.Get(addr)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, e.store.Put(record.NewSpendRecord(addr, []record.Spend{s}))
	case err != nil:
		return false, err
	}

	id := s.ID()
	for _, held := range rec.Spends {
		if held.ID() == id {
			return len(rec.Spends) > 1, nil // idempotent resubmission
		}
	}
	rec.Spends = append(rec.Spends, s)
	if err := e.store.Put(rec); err != nil {
		return false, err
	}
	return true, nil
}

// ViewOf reports the local spend view of one output address.
func (e *Engine) ViewOf(addr xor.Address) View {
	rec, err := e.store.Get(addr)
	if err != nil {
		return View{Address: addr}
	}
	ids := make(map[xor.Address]struct{}, len(rec.Spends))
	for _, s := range rec.Spends {
		ids[s.ID()] = struct{}{}
	}
	return View{
		Address:  addr,
		Spends:   rec.Spends,
		Conflict: len(ids) > 1,
	}
}

// StatusOf is ViewOf reduced to the state machine value.
func (e *Engine) StatusOf(addr xor.Address) Status {
	return e.ViewOf(addr).Status()
}
