// Package store is the node's persistent record store: a badger-backed
// map from address to record with a capacity bound and an eviction
// policy that never drops a record this node is the sole holder of.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/metrics"
	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/xor"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrCapacityExceeded = errors.New("record store at capacity")
)

var (
	recPrefix  = []byte("rec:")
	metaPrefix = []byte("meta:")
)

type EventOp int

const (
	OpPut EventOp = iota + 1
	OpRemove
)

// Event is emitted on every successful put or remove; the replication
// manager consumes the stream to schedule pushes.
type Event struct {
	Op      EventOp
	Address xor.Address
	Kind    record.Kind
}

// Meta is per-record bookkeeping used by the eviction and replication
// policies.
type Meta struct {
	Kind           record.Kind `json:"kind"`
	StoredAt       time.Time   `json:"stored_at"`
	LastReplicated time.Time   `json:"last_replicated"`
}

type Store struct {
	db       *badger.DB
	capacity int
	logger   *zap.Logger

	// protected reports whether this node is currently the sole
	// close-group member for an address; such records are never
	// evicted. Wired by the node after the routing table exists.
	protectedMu sync.RWMutex
	protected   func(xor.Address) bool

	mu     sync.Mutex // serializes count/evict decisions
	count  int
	events chan Event
}

// Open opens (or creates) the store under dir. Capacity is a record
// count; zero means unbounded.
func Open(dir string, capacity int, logger *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	s := &Store{
		db:       db,
		capacity: capacity,
		logger:   logger,
		events:   make(chan Event, 256),
	}
	if err := s.recount(); err != nil {
		_ = db.Close()
		return nil, err
	}
	metrics.RecordsHeld.Set(float64(s.count))
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Events never block the writer; a full buffer drops the event and the
// next replication sweep covers the gap.
func (s *Store) Events() <-chan Event { return s.events }

func (s *Store) SetProtected(fn func(xor.Address) bool) {
	s.protectedMu.Lock()
	s.protected = fn
	s.protectedMu.Unlock()
}

func (s *Store) isProtected(addr xor.Address) bool {
	s.protectedMu.RLock()
	fn := s.protected
	s.protectedMu.RUnlock()
	return fn != nil && fn(addr)
}

func rewriteBadgerErr(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func recKey(addr xor.Address) []byte  { return append(recPrefix[:len(recPrefix):len(recPrefix)], addr[:]...) }
func metaKey(addr xor.Address) []byte { return append(metaPrefix[:len(metaPrefix):len(metaPrefix)], addr[:]...) }

func (s *Store) recount() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		n := 0
		for it.Seek(recPrefix); it.ValidForPrefix(recPrefix); it.Next() {
			n++
		}
		s.count = n
		return nil
	})
}

// Put validates and persists a record. Storing an identical record is
// a no-op, keeping replication pushes idempotent. When the store is
// full, the least-recently-replicated unprotected record is evicted
// first; if nothing can be evicted, Put fails with
// ErrCapacityExceeded.
func (s *Store) Put(rec record.Record) error {
	if err := rec.Validate(); err != nil {
		metrics.StoreRejections.WithLabelValues("malformed").Inc()
		return err
	}

	existing, err := s.Get(rec.Address)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if exists && existing.Fingerprint() == rec.Fingerprint() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !exists && s.capacity > 0 && s.count >= s.capacity {
		if !s.evictOne() {
			metrics.StoreRejections.WithLabelValues("capacity").Inc()
			return ErrCapacityExceeded
		}
	}

	meta := Meta{Kind: rec.Kind, StoredAt: time.Now()}
	if exists {
		if m, ok := s.meta(rec.Address); ok {
			meta.StoredAt = m.StoredAt
			meta.LastReplicated = m.LastReplicated
		}
	}
	if err := s.write(rec, meta); err != nil {
		return err
	}
	if !exists {
		s.count++
		metrics.RecordsHeld.Set(float64(s.count))
	}
	s.emit(Event{Op: OpPut, Address: rec.Address, Kind: rec.Kind})
	s.logger.Debug("record stored",
		zap.String("addr", rec.Address.Short()),
		zap.String("kind", rec.Kind.String()))
	return nil
}

func (s *Store) write(rec record.Record, meta Meta) error {
	return s.db.Update(func(txn *badger.Txn) error {
		body, err := jsoniter.Marshal(rec)
		if err != nil {
			return err
		}
		mb, err := jsoniter.Marshal(meta)
		if err != nil {
			return err
		}
		if err := txn.Set(recKey(rec.Address), body); err != nil {
			return err
		}
		return txn.Set(metaKey(rec.Address), mb)
	})
}

func (s *Store) Get(addr xor.Address) (record.Record, error) {
	var rec record.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recKey(addr))
		if err != nil {
			return rewriteBadgerErr(err)
		}
		body, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return jsoniter.Unmarshal(body, &rec)
	})
	return rec, err
}

func (s *Store) Has(addr xor.Address) bool {
	_, err := s.Get(addr)
	return err == nil
}

// Remove drops a record; removing an absent address is a no-op.
func (s *Store) Remove(addr xor.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(addr)
}

func (s *Store) removeLocked(addr xor.Address) error {
	if !s.Has(addr) {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(recKey(addr)); err != nil {
			return err
		}
		return txn.Delete(metaKey(addr))
	})
	if err != nil {
		return err
	}
	s.count--
	metrics.RecordsHeld.Set(float64(s.count))
	s.emit(Event{Op: OpRemove, Address: addr})
	return nil
}

// Addresses lists every held address.
func (s *Store) Addresses() []xor.Address {
	var out []xor.Address
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(recPrefix); it.ValidForPrefix(recPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			var addr xor.Address
			copy(addr[:], key[len(recPrefix):])
			out = append(out, addr)
		}
		return nil
	})
	return out
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Store) meta(addr xor.Address) (Meta, bool) {
	var m Meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(addr))
		if err != nil {
			return rewriteBadgerErr(err)
		}
		body, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return jsoniter.Unmarshal(body, &m)
	})
	return m, err == nil
}

// Meta returns the bookkeeping entry for an address.
func (s *Store) Meta(addr xor.Address) (Meta, bool) {
	return s.meta(addr)
}

// MarkReplicated records that the close group has been pushed this
// record, feeding the least-recently-replicated eviction order.
func (s *Store) MarkReplicated(addr xor.Address, at time.Time) {
	m, ok := s.meta(addr)
	if !ok {
		return
	}
	m.LastReplicated = at
	_ = s.db.Update(func(txn *badger.Txn) error {
		body, err := jsoniter.Marshal(m)
		if err != nil {
			return err
		}
		return txn.Set(metaKey(addr), body)
	})
}

// evictOne drops the least-recently-replicated unprotected record.
// Called with s.mu held. Returns false when every candidate is
// protected.
func (s *Store) evictOne() bool {
	type cand struct {
		addr xor.Address
		at   time.Time
	}
	var victims []cand
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(metaPrefix); it.ValidForPrefix(metaPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			var addr xor.Address
			copy(addr[:], key[len(metaPrefix):])
			body, err := it.Item().ValueCopy(nil)
			if err != nil {
				continue
			}
			var m Meta
			if err := jsoniter.Unmarshal(body, &m); err != nil {
				continue
			}
			victims = append(victims, cand{addr: addr, at: m.LastReplicated})
		}
		return nil
	})

	var best *cand
	for i := range victims {
		if s.isProtected(victims[i].addr) {
			continue
		}
		if best == nil || victims[i].at.Before(best.at) {
			best = &victims[i]
		}
	}
	if best == nil {
		return false
	}
	if err := s.removeLocked(best.addr); err != nil {
		s.logger.Warn("eviction failed", zap.String("addr", best.addr.Short()), zap.Error(err))
		return false
	}
	metrics.StoreEvictions.Inc()
	s.logger.Debug("record evicted", zap.String("addr", best.addr.Short()))
	return true
}

func (s *Store) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}
