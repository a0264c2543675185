package spend

import (
	"math"

	"github.com/karstnet/karst/pkg/xor"
)

// Confirmation is the client-side aggregate over close-group views.
type Confirmation uint8

const (
	// Unconfirmed: not enough agreeing views yet.
	Unconfirmed Confirmation = iota
	// Confirmed: a quorum of the group reports the same single spend
	// and nobody reports a conflict.
	Confirmed
	// Ambiguous: at least one group member has observed conflicting
	// spends. The output should be treated as burnt.
	Ambiguous
)

func (c Confirmation) String() string {
	switch c {
	case Confirmed:
		return "confirmed"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unconfirmed"
	}
}

// Aggregate folds per-node views into a network confirmation. The
// quorum fraction is deployment policy, supplied by configuration.
// One conflicting report poisons the result regardless of how many
// clean views agree.
func Aggregate(views []View, groupSize int, quorumFraction float64) Confirmation {
	if groupSize <= 0 || len(views) == 0 {
		return Unconfirmed
	}
	need := int(math.Ceil(quorumFraction * float64(groupSize)))
	if need < 1 {
		need = 1
	}

	agree := make(map[xor.Address]int)
	for _, v := range views {
		if v.Conflict {
			return Ambiguous
		}
		if len(v.Spends) == 1 {
			agree[v.Spends[0].ID()]++
		}
	}
	for _, n := range agree {
		if n >= need {
			return Confirmed
		}
	}
	return Unconfirmed
}
