package record

import (
	"fmt"
	"sort"

	"github.com/karstnet/karst/pkg/xor"
)

// Kind discriminates the three record families stored in the network.
type Kind uint8

const (
	KindChunk Kind = iota + 1
	KindRegister
	KindSpend
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindRegister:
		return "register"
	case KindSpend:
		return "spend"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record is the unit held by the record store and moved by
// replication. A chunk is immutable content; a register is the full
// operation history of a CRDT register; a spend record carries every
// spend observed for one output address, conflicting ones included.
type Record struct {
	Kind    Kind        `json:"kind"`
	Address xor.Address `json:"address"`

	Content []byte       `json:"content,omitempty"` // chunk payload
	Ops     []RegisterOp `json:"ops,omitempty"`     // register history
	Spends  []Spend      `json:"spends,omitempty"`  // spends at this address
}

// NewChunk builds a chunk record; the address is derived, never chosen.
func NewChunk(content []byte) Record {
	return Record{Kind: KindChunk, Address: xor.HashOf(content), Content: content}
}

// NewRegister builds a register record from an op history.
func NewRegister(addr xor.Address, ops []RegisterOp) Record {
	return Record{Kind: KindRegister, Address: addr, Ops: ops}
}

// NewSpendRecord builds the record stored at the consumed output's
// address.
func NewSpendRecord(addr xor.Address, spends []Spend) Record {
	return Record{Kind: KindSpend, Address: addr, Spends: spends}
}

// Validate checks the record against its own address: chunk content
// must hash to the address, every register op must verify and belong
// to the register, every spend must verify and consume the address.
// The check runs on every put; the sender is not trusted.
func (r Record) Validate() error {
	switch r.Kind {
	case KindChunk:
		if len(r.Content) == 0 {
			return fmt.Errorf("%w: empty chunk", ErrMalformed)
		}
		if xor.HashOf(r.Content) != r.Address {
			return fmt.Errorf("%w: %w", ErrMalformed, ErrHashMismatch)
		}
	case KindRegister:
		if len(r.Ops) == 0 {
			return fmt.Errorf("%w: register without ops", ErrMalformed)
		}
		for _, op := range r.Ops {
			if op.Register != r.Address {
				return fmt.Errorf("%w: op for register %s stored at %s",
					ErrMalformed, op.Register.Short(), r.Address.Short())
			}
			if err := op.Verify(); err != nil {
				return err
			}
		}
	case KindSpend:
		if len(r.Spends) == 0 {
			return fmt.Errorf("%w: spend record without spends", ErrMalformed)
		}
		for _, s := range r.Spends {
			if err := s.Verify(); err != nil {
				return err
			}
			if !s.Consumes(r.Address) {
				return fmt.Errorf("%w: spend %s does not consume %s",
					ErrMalformed, s.ID().Short(), r.Address.Short())
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformed, r.Kind)
	}
	return nil
}

// Fingerprint is a digest of the record's current content, used by
// anti-entropy manifests to detect divergence without shipping bodies.
// For chunks it equals the address; for registers and spend sets it
// folds the sorted element ids, so it is order-independent.
func (r Record) Fingerprint() xor.Address {
	switch r.Kind {
	case KindChunk:
		return r.Address
	case KindRegister:
		ids := make([]xor.Address, 0, len(r.Ops))
		for _, op := range r.Ops {
			ids = append(ids, op.ID())
		}
		return foldIDs(ids)
	case KindSpend:
		ids := make([]xor.Address, 0, len(r.Spends))
		for _, s := range r.Spends {
			ids = append(ids, s.ID())
		}
		return foldIDs(ids)
	}
	return xor.Zero
}

func foldIDs(ids []xor.Address) xor.Address {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	buf := make([]byte, 0, len(ids)*xor.Size)
	for _, id := range ids {
		buf = append(buf, id[:]...)
	}
	return xor.HashOf(buf)
}
