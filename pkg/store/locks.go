package store

import (
	"sync"

	"github.com/karstnet/karst/pkg/xor"
)

// AddrLocks serializes operations per address with striped mutexes, so
// a put and a concurrent replication push of the same address cannot
// interleave, while unrelated addresses proceed in parallel. Stripes
// are keyed by the address's first byte; callers must not hold a
// stripe across a remote call.
type AddrLocks struct {
	mu [256]sync.Mutex
}

// Lock acquires the stripe for addr and returns the release func.
func (l *AddrLocks) Lock(addr xor.Address) func() {
	m := &l.mu[addr[0]]
	m.Lock()
	return m.Unlock
}
