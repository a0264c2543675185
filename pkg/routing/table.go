package routing

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/xor"
)

const numBuckets = xor.Size * 8

// Table is the k-bucket routing table. Buckets are indexed by the
// common prefix length between a peer's address and our own, bounding
// the table to O(k * address bits) entries. All reads observe a
// consistent snapshot under the read lock; mutations bump the version
// and emit an Event.
type Table struct {
	self   Peer
	k      int
	logger *zap.Logger

	mu      sync.RWMutex
	buckets [numBuckets]*bucket
	version uint64

	events chan Event
}

func NewTable(self Peer, k int, logger *zap.Logger) *Table {
	t := &Table{
		self:   self,
		k:      k,
		logger: logger,
		events: make(chan Event, 256),
	}
	for i := range t.buckets {
		t.buckets[i] = newBucket(k)
	}
	return t
}

func (t *Table) Self() Peer { return t.self }
func (t *Table) K() int     { return t.k }

// Events is consumed by the replication manager. Sends never block; if
// the consumer falls behind, events are dropped and the next periodic
// sweep covers the gap.
func (t *Table) Events() <-chan Event { return t.events }

func (t *Table) bucketFor(addr xor.Address) *bucket {
	i := t.self.Addr.CommonPrefixLen(addr)
	if i >= numBuckets {
		i = numBuckets - 1
	}
	return t.buckets[i]
}

// Insert adds or refreshes a peer. Self-inserts are ignored. Returns
// true if the peer joined the table (as opposed to a refresh or a
// spill into the replacement cache).
func (t *Table) Insert(p Peer) bool {
	if p.Addr == t.self.Addr || p.Addr.IsZero() {
		return false
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now()
	}
	t.mu.Lock()
	joined := t.bucketFor(p.Addr).add(p)
	var ev Event
	if joined {
		t.version++
		ev = Event{Type: PeerJoined, Peer: p, Version: t.version}
	}
	t.mu.Unlock()

	if joined {
		t.emit(ev)
		t.logger.Debug("peer joined table",
			zap.String("peer", p.Addr.Short()),
			zap.String("host", p.Host))
	}
	return joined
}

// Remove evicts a peer, promoting a cached replacement if one exists.
func (t *Table) Remove(addr xor.Address) bool {
	t.mu.Lock()
	removed, promoted := t.bucketFor(addr).remove(addr)
	var evs []Event
	if removed {
		t.version++
		evs = append(evs, Event{Type: PeerLeft, Peer: Peer{Addr: addr}, Version: t.version})
		if promoted != nil {
			t.version++
			evs = append(evs, Event{Type: PeerJoined, Peer: *promoted, Version: t.version})
		}
	}
	t.mu.Unlock()

	for _, ev := range evs {
		t.emit(ev)
	}
	if removed {
		t.logger.Debug("peer left table", zap.String("peer", addr.Short()))
	}
	return removed
}

func (t *Table) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
	}
}

// Contains reports whether addr is currently a table entry.
func (t *Table) Contains(addr xor.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bucketFor(addr).find(addr) != nil
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.buckets {
		n += b.len()
	}
	return n
}

func (t *Table) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Peers returns a snapshot of all table entries.
func (t *Table) Peers() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, t.k)
	for _, b := range t.buckets {
		out = append(out, b.peers()...)
	}
	return out
}

// ClosestPeers returns the n peers closest to target under the XOR
// metric, ordered by (distance, address). The address tie-break keeps
// the order total, so converged tables agree on it exactly. Self is
// not included. An empty table yields an empty slice.
func (t *Table) ClosestPeers(target xor.Address, n int) []Peer {
	t.mu.RLock()
	candidates := make([]Peer, 0, n*2)
	for _, b := range t.buckets {
		candidates = append(candidates, b.peers()...)
	}
	t.mu.RUnlock()

	sortByDistance(candidates, target)
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// CloseGroup computes the close group of addr: the k addresses nearest
// to it among the known peers plus ourselves. The second return
// reports whether this node is a member, i.e. whether it is
// responsible for addr.
func (t *Table) CloseGroup(addr xor.Address) ([]Peer, bool) {
	candidates := append(t.ClosestPeers(addr, t.k), t.self)
	sortByDistance(candidates, addr)
	if len(candidates) > t.k {
		candidates = candidates[:t.k]
	}
	member := false
	for _, p := range candidates {
		if p.Addr == t.self.Addr {
			member = true
			break
		}
	}
	return candidates, member
}

// LeastRecentlySeen returns up to n entries ordered stalest-first,
// used by the liveness prober.
func (t *Table) LeastRecentlySeen(n int) []Peer {
	peers := t.Peers()
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].LastSeen.Before(peers[j].LastSeen)
	})
	if len(peers) > n {
		peers = peers[:n]
	}
	return peers
}

func sortByDistance(peers []Peer, target xor.Address) {
	sort.Slice(peers, func(i, j int) bool {
		di := peers[i].Addr.Distance(target)
		dj := peers[j].Addr.Distance(target)
		if di == dj {
			return peers[i].Addr.Less(peers[j].Addr)
		}
		return di.Less(dj)
	})
}
