// Package transport carries the node protocol between peers as
// JSON-over-HTTP. Authentication and encryption of the wire belong to
// the surrounding process; this package is the seam they plug into.
// Every request names its sender so receivers learn peers from
// ordinary traffic.
package transport

import (
	"context"
	"errors"

	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/spend"
	"github.com/karstnet/karst/pkg/xor"
)

// ErrUnreachable wraps any dial/timeout failure. Callers report it to
// the churn monitor rather than retrying in the same cycle.
var ErrUnreachable = errors.New("peer unreachable")

// ManifestEntry summarizes one held record for anti-entropy exchange:
// the address plus a content fingerprint, never the body.
type ManifestEntry struct {
	Address     xor.Address `json:"address"`
	Fingerprint xor.Address `json:"fingerprint"`
}

// NodeAPI is the inbound protocol surface a node exposes to peers.
type NodeAPI interface {
	PutRecord(ctx context.Context, from routing.Peer, rec record.Record) error
	GetRecord(ctx context.Context, from routing.Peer, addr xor.Address) (record.Record, error)
	ReplicateRequest(ctx context.Context, from routing.Peer, addr xor.Address) error
	Manifest(ctx context.Context, from routing.Peer, entries []ManifestEntry) ([]ManifestEntry, error)
	SubmitSpend(ctx context.Context, from routing.Peer, s record.Spend) error
	SpendView(ctx context.Context, from routing.Peer, addr xor.Address) (spend.View, error)
	Ping(ctx context.Context, from routing.Peer) error
}

// Client is one remote peer as seen from this node; it mirrors
// NodeAPI with the sender filled in by the dialer.
type Client interface {
	PutRecord(ctx context.Context, rec record.Record) error
	GetRecord(ctx context.Context, addr xor.Address) (record.Record, error)
	ReplicateRequest(ctx context.Context, addr xor.Address) error
	Manifest(ctx context.Context, entries []ManifestEntry) ([]ManifestEntry, error)
	SubmitSpend(ctx context.Context, s record.Spend) error
	SpendView(ctx context.Context, addr xor.Address) (spend.View, error)
	Ping(ctx context.Context) error
}

// Dialer turns a routing table entry into a Client.
type Dialer interface {
	Dial(p routing.Peer) Client
}

type putRecordRequest struct {
	From   routing.Peer  `json:"from"`
	Record record.Record `json:"record"`
}

type addrRequest struct {
	From    routing.Peer `json:"from"`
	Address xor.Address  `json:"address"`
}

type recordResponse struct {
	Record record.Record `json:"record"`
}

type manifestRequest struct {
	From    routing.Peer    `json:"from"`
	Entries []ManifestEntry `json:"entries"`
}

type manifestResponse struct {
	Entries []ManifestEntry `json:"entries"`
}

type spendRequest struct {
	From  routing.Peer `json:"from"`
	Spend record.Spend `json:"spend"`
}

type spendViewResponse struct {
	View spend.View `json:"view"`
}

type pingRequest struct {
	From routing.Peer `json:"from"`
}

type errorResponse struct {
	Error string `json:"error"`
}
