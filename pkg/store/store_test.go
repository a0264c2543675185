package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/xor"
)

func openTest(t *testing.T, capacity int) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), capacity, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func chunk(content string) record.Record {
	return record.NewChunk([]byte(content))
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := openTest(t, 0)
	rec := chunk("hello")

	require.NoError(t, s.Put(rec))
	got, err := s.Get(rec.Address)
	require.NoError(t, err)
	require.Equal(t, rec.Address, got.Address)
	require.Equal(t, rec.Content, got.Content)
	require.Equal(t, 1, s.Count())
	require.True(t, s.Has(rec.Address))
}

func TestGet_Missing(t *testing.T) {
	s := openTest(t, 0)
	_, err := s.Get(xor.Random())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPut_RejectsForgedAddress(t *testing.T) {
	s := openTest(t, 0)
	rec := chunk("hello")
	rec.Address = xor.Random()

	err := s.Put(rec)
	require.ErrorIs(t, err, record.ErrHashMismatch)
	require.Equal(t, 0, s.Count())
}

func TestPut_IdenticalIsNoOp(t *testing.T) {
	s := openTest(t, 0)
	rec := chunk("hello")

	require.NoError(t, s.Put(rec))
	first, ok := s.Meta(rec.Address)
	require.True(t, ok)

	require.NoError(t, s.Put(rec))
	require.Equal(t, 1, s.Count())
	second, ok := s.Meta(rec.Address)
	require.True(t, ok)
	require.Equal(t, first.StoredAt, second.StoredAt)
}

func TestRemove_AbsentIsNoOp(t *testing.T) {
	s := openTest(t, 0)
	require.NoError(t, s.Remove(xor.Random()))
}

func TestAddresses_ListsHeld(t *testing.T) {
	s := openTest(t, 0)
	want := map[xor.Address]bool{}
	for i := 0; i < 5; i++ {
		rec := chunk(fmt.Sprintf("content-%d", i))
		require.NoError(t, s.Put(rec))
		want[rec.Address] = true
	}
	got := s.Addresses()
	require.Len(t, got, 5)
	for _, addr := range got {
		require.True(t, want[addr])
	}
}

func TestCapacity_EvictsLeastRecentlyReplicated(t *testing.T) {
	s := openTest(t, 2)
	old := chunk("old")
	fresh := chunk("fresh")
	require.NoError(t, s.Put(old))
	require.NoError(t, s.Put(fresh))
	s.MarkReplicated(old.Address, time.Now().Add(-time.Hour))
	s.MarkReplicated(fresh.Address, time.Now())

	third := chunk("third")
	require.NoError(t, s.Put(third))

	require.False(t, s.Has(old.Address), "stalest record should be evicted")
	require.True(t, s.Has(fresh.Address))
	require.True(t, s.Has(third.Address))
	require.Equal(t, 2, s.Count())
}

func TestCapacity_ProtectedRecordsSurvive(t *testing.T) {
	s := openTest(t, 1)
	keep := chunk("sole holder")
	require.NoError(t, s.Put(keep))
	s.SetProtected(func(addr xor.Address) bool { return addr == keep.Address })

	err := s.Put(chunk("incoming"))
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.True(t, s.Has(keep.Address))
}

func TestEvents_EmittedOnPutAndRemove(t *testing.T) {
	s := openTest(t, 0)
	rec := chunk("hello")

	require.NoError(t, s.Put(rec))
	ev := <-s.Events()
	require.Equal(t, OpPut, ev.Op)
	require.Equal(t, rec.Address, ev.Address)
	require.Equal(t, record.KindChunk, ev.Kind)

	require.NoError(t, s.Remove(rec.Address))
	ev = <-s.Events()
	require.Equal(t, OpRemove, ev.Op)
	require.Equal(t, rec.Address, ev.Address)
}

func TestReopen_KeepsRecords(t *testing.T) {
	dir := t.TempDir()
	rec := chunk("durable")

	s, err := Open(dir, 0, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Put(rec))
	require.NoError(t, s.Close())

	s, err = Open(dir, 0, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, 1, s.Count())
	got, err := s.Get(rec.Address)
	require.NoError(t, err)
	require.Equal(t, rec.Content, got.Content)
}
