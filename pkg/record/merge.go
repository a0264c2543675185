package record

import "github.com/karstnet/karst/pkg/xor"

// Merge combines two replicas of the same address. Chunks are
// immutable so either copy serves; register histories and spend sets
// union by element id. Union is commutative, associative and
// idempotent, so replicas converge whatever the merge order. Causal
// gaps in a register history are tolerated here; the view layer
// excludes ops whose predecessor has not arrived.
func Merge(a, b Record) Record {
	if a.Address != b.Address || a.Kind != b.Kind {
		return a
	}
	switch a.Kind {
	case KindChunk:
		return a
	case KindRegister:
		seen := make(map[xor.Address]struct{}, len(a.Ops))
		for _, op := range a.Ops {
			seen[op.ID()] = struct{}{}
		}
		for _, op := range b.Ops {
			if _, ok := seen[op.ID()]; !ok {
				a.Ops = append(a.Ops, op)
				seen[op.ID()] = struct{}{}
			}
		}
		return a
	case KindSpend:
		seen := make(map[xor.Address]struct{}, len(a.Spends))
		for _, s := range a.Spends {
			seen[s.ID()] = struct{}{}
		}
		for _, s := range b.Spends {
			if _, ok := seen[s.ID()]; !ok {
				a.Spends = append(a.Spends, s)
				seen[s.ID()] = struct{}{}
			}
		}
		return a
	}
	return a
}
