package routing

import (
	"container/list"

	"github.com/karstnet/karst/pkg/xor"
)

const replacementCap = 16

// bucket holds up to k peers sharing a distance-prefix length,
// most-recently-seen at the front. Peers that do not fit are kept in a
// bounded replacement cache and promoted when a slot opens.
type bucket struct {
	entries *list.List
	repl    []Peer
	cap     int
}

func newBucket(cap int) *bucket {
	return &bucket{entries: list.New(), cap: cap}
}

func (b *bucket) len() int { return b.entries.Len() }

func (b *bucket) find(addr xor.Address) *list.Element {
	for e := b.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(Peer).Addr == addr {
			return e
		}
	}
	return nil
}

// add inserts or refreshes a peer. Returns true if the peer is newly
// present in the bucket after the call.
func (b *bucket) add(p Peer) bool {
	if e := b.find(p.Addr); e != nil {
		e.Value = p
		b.entries.MoveToFront(e)
		return false
	}
	if b.entries.Len() < b.cap {
		b.entries.PushFront(p)
		return true
	}
	b.addReplacement(p)
	return false
}

// remove drops a peer and promotes the most recent replacement, if any.
// The second return is the promoted peer.
func (b *bucket) remove(addr xor.Address) (bool, *Peer) {
	e := b.find(addr)
	if e == nil {
		return false, nil
	}
	b.entries.Remove(e)
	if n := len(b.repl); n > 0 {
		p := b.repl[n-1]
		b.repl = b.repl[:n-1]
		b.entries.PushBack(p)
		return true, &p
	}
	return true, nil
}

func (b *bucket) addReplacement(p Peer) {
	for i := range b.repl {
		if b.repl[i].Addr == p.Addr {
			b.repl[i] = p
			return
		}
	}
	if len(b.repl) >= replacementCap {
		copy(b.repl, b.repl[1:])
		b.repl = b.repl[:replacementCap-1]
	}
	b.repl = append(b.repl, p)
}

func (b *bucket) peers() []Peer {
	out := make([]Peer, 0, b.entries.Len())
	for e := b.entries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Peer))
	}
	return out
}
