package routing

import (
	"time"

	"github.com/karstnet/karst/pkg/xor"
)

// Peer is a routing table entry: identity plus reachability info.
type Peer struct {
	Addr     xor.Address `json:"addr"`
	Host     string      `json:"host"` // host:port the transport dials
	LastSeen time.Time   `json:"last_seen,omitempty"`
}

type EventType int

const (
	PeerJoined EventType = iota + 1
	PeerLeft
)

// Event is emitted whenever table membership changes. The replication
// manager recomputes close-group coverage on every event.
type Event struct {
	Type    EventType
	Peer    Peer
	Version uint64 // table version after the change
}
