package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/spend"
	"github.com/karstnet/karst/pkg/store"
	"github.com/karstnet/karst/pkg/xor"
)

// stubAPI records what it was called with and answers from canned
// fields.
type stubAPI struct {
	lastFrom routing.Peer
	putRec   record.Record
	getRec   record.Record
	getErr   error
	putErr   error
	spendErr error
	view     spend.View
	entries  []ManifestEntry
}

func (s *stubAPI) PutRecord(_ context.Context, from routing.Peer, rec record.Record) error {
	s.lastFrom, s.putRec = from, rec
	return s.putErr
}

func (s *stubAPI) GetRecord(_ context.Context, from routing.Peer, _ xor.Address) (record.Record, error) {
	s.lastFrom = from
	return s.getRec, s.getErr
}

func (s *stubAPI) ReplicateRequest(_ context.Context, from routing.Peer, _ xor.Address) error {
	s.lastFrom = from
	return nil
}

func (s *stubAPI) Manifest(_ context.Context, from routing.Peer, _ []ManifestEntry) ([]ManifestEntry, error) {
	s.lastFrom = from
	return s.entries, nil
}

func (s *stubAPI) SubmitSpend(_ context.Context, from routing.Peer, _ record.Spend) error {
	s.lastFrom = from
	return s.spendErr
}

func (s *stubAPI) SpendView(_ context.Context, from routing.Peer, _ xor.Address) (spend.View, error) {
	s.lastFrom = from
	return s.view, nil
}

func (s *stubAPI) Ping(_ context.Context, from routing.Peer) error {
	s.lastFrom = from
	return nil
}

func newTestPair(t *testing.T, api NodeAPI) (Client, routing.Peer) {
	t.Helper()
	mux := http.NewServeMux()
	Routes(mux, api, zap.NewNop())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	self := routing.Peer{Addr: xor.Random(), Host: "127.0.0.1:9999"}
	remote := routing.Peer{Addr: xor.Random(), Host: strings.TrimPrefix(ts.URL, "http://")}
	return NewHTTPDialer(self, 2*time.Second).Dial(remote), self
}

func TestPutGetRoundTrip(t *testing.T) {
	api := &stubAPI{}
	client, self := newTestPair(t, api)
	ctx := context.Background()

	rec := record.NewChunk([]byte("over the wire"))
	require.NoError(t, client.PutRecord(ctx, rec))
	require.Equal(t, self.Addr, api.lastFrom.Addr, "requests must carry the sender")
	require.Equal(t, rec.Address, api.putRec.Address)
	require.Equal(t, rec.Content, api.putRec.Content)

	api.getRec = rec
	got, err := client.GetRecord(ctx, rec.Address)
	require.NoError(t, err)
	require.Equal(t, rec.Address, got.Address)
	require.Equal(t, rec.Content, got.Content)
}

func TestErrorsSurviveTheWire(t *testing.T) {
	api := &stubAPI{}
	client, _ := newTestPair(t, api)
	ctx := context.Background()

	api.getErr = store.ErrNotFound
	_, err := client.GetRecord(ctx, xor.Random())
	require.ErrorIs(t, err, store.ErrNotFound)

	api.putErr = record.ErrMalformed
	require.ErrorIs(t, client.PutRecord(ctx, record.NewChunk([]byte("x"))), record.ErrMalformed)

	api.putErr = store.ErrCapacityExceeded
	require.ErrorIs(t, client.PutRecord(ctx, record.NewChunk([]byte("y"))), store.ErrCapacityExceeded)

	api.spendErr = spend.ErrDoubleSpend
	err = client.SubmitSpend(ctx, record.Spend{})
	require.ErrorIs(t, err, spend.ErrDoubleSpend)
}

func TestManifestExchange(t *testing.T) {
	api := &stubAPI{entries: []ManifestEntry{{Address: xor.Random(), Fingerprint: xor.Random()}}}
	client, _ := newTestPair(t, api)

	got, err := client.Manifest(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, api.entries, got)
}

func TestSpendView(t *testing.T) {
	addr := xor.Random()
	api := &stubAPI{view: spend.View{Address: addr, Conflict: true}}
	client, _ := newTestPair(t, api)

	v, err := client.SpendView(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, addr, v.Address)
	require.True(t, v.Conflict)
	require.Equal(t, spend.DoubleSpent, v.Status())
}

func TestPing(t *testing.T) {
	api := &stubAPI{}
	client, self := newTestPair(t, api)
	require.NoError(t, client.Ping(context.Background()))
	require.Equal(t, self.Addr, api.lastFrom.Addr)
}

func TestUnreachablePeer(t *testing.T) {
	self := routing.Peer{Addr: xor.Random(), Host: "127.0.0.1:9999"}
	// Reserved TEST-NET address, nothing listens there.
	dead := routing.Peer{Addr: xor.Random(), Host: "192.0.2.1:1"}
	client := NewHTTPDialer(self, 100*time.Millisecond).Dial(dead)

	err := client.Ping(context.Background())
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestLoopback(t *testing.T) {
	wire := NewLoopback()
	api := &stubAPI{}
	peer := routing.Peer{Addr: xor.Random(), Host: "loop-a"}
	wire.Register(peer.Addr, api)

	self := routing.Peer{Addr: xor.Random(), Host: "loop-b"}
	selfAPI := &stubAPI{}
	wire.Register(self.Addr, selfAPI)
	dialer := &LoopbackDialer{Self: self, Wire: wire}

	require.NoError(t, dialer.Dial(peer).Ping(context.Background()))
	require.Equal(t, self.Addr, api.lastFrom.Addr)

	wire.SetDown(peer.Addr, true)
	require.ErrorIs(t, dialer.Dial(peer).Ping(context.Background()), ErrUnreachable)

	wire.SetDown(peer.Addr, false)
	require.NoError(t, dialer.Dial(peer).Ping(context.Background()))
}
