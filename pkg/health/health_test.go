package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/store"
	"github.com/karstnet/karst/pkg/xor"
)

func newChecker(t *testing.T) (*Checker, *routing.Table, *store.Store) {
	t.Helper()
	table := routing.NewTable(routing.Peer{Addr: xor.Random(), Host: "self:7040"}, 20, zap.NewNop())
	st, err := store.Open(t.TempDir(), 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(table, st), table, st
}

func TestCheck_IsolatedWithoutPeers(t *testing.T) {
	c, table, st := newChecker(t)

	r := c.Check()
	require.Equal(t, "isolated", r.Status)
	require.Zero(t, r.Peers)

	table.Insert(routing.Peer{Addr: xor.Random(), Host: "peer:7040"})
	require.NoError(t, st.Put(record.NewChunk([]byte("x"))))

	r = c.Check()
	require.Equal(t, "ok", r.Status)
	require.Equal(t, 1, r.Peers)
	require.Equal(t, 1, r.Records)
}

func TestHandler_StatusCodes(t *testing.T) {
	c, table, _ := newChecker(t)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	table.Insert(routing.Peer{Addr: xor.Random(), Host: "peer:7040"})
	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var r Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	require.Equal(t, "ok", r.Status)
}
