package replicate

import (
	"context"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/transport"
)

// ManifestFor summarizes the held records whose close group includes
// the given peer: the keyspace segment we jointly cover. Only
// addresses and fingerprints travel, never bodies.
func (m *Manager) ManifestFor(p routing.Peer) []transport.ManifestEntry {
	var out []transport.ManifestEntry
	for _, addr := range m.store.Addresses() {
		group, member := m.table.CloseGroup(addr)
		if !member {
			continue
		}
		covered := false
		for _, g := range group {
			if g.Addr == p.Addr {
				covered = true
				break
			}
		}
		if !covered {
			continue
		}
		rec, err := m.store.Get(addr)
		if err != nil {
			continue
		}
		out = append(out, transport.ManifestEntry{
			Address:     addr,
			Fingerprint: rec.Fingerprint(),
		})
	}
	return out
}

// HandleManifest ingests a peer's manifest and answers with our own
// for the jointly covered segment. Entries we lack or whose
// fingerprint differs are pulled from the sender; register and spend
// pulls merge through the ordinary put path, so a divergent op set
// converges instead of flapping.
func (m *Manager) HandleManifest(ctx context.Context, from routing.Peer, theirs []transport.ManifestEntry) ([]transport.ManifestEntry, error) {
	m.table.Insert(from)
	m.Reconcile(ctx, from, theirs)
	return m.ManifestFor(from), nil
}

// Reconcile pulls every divergent entry of a peer's manifest.
func (m *Manager) Reconcile(ctx context.Context, from routing.Peer, theirs []transport.ManifestEntry) {
	client := m.dial.Dial(from)
	for _, entry := range theirs {
		if ctx.Err() != nil {
			return
		}
		if _, member := m.table.CloseGroup(entry.Address); !member {
			continue
		}
		if held, err := m.store.Get(entry.Address); err == nil && held.Fingerprint() == entry.Fingerprint {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		rec, err := client.GetRecord(cctx, entry.Address)
		cancel()
		if err != nil {
			m.churn.ReportFailure(from.Addr)
			return
		}
		if err := m.merge(rec); err != nil {
			m.logger.Debug("manifest pull rejected",
				zap.String("addr", entry.Address.Short()), zap.Error(err))
		}
	}
}

// merge folds a pulled record into the local store, unioning register
// op histories and spend sets with what we already hold. The stripe
// lock covers the read-merge-write so a concurrent put or pull of the
// same address cannot discard ops the other just added.
func (m *Manager) merge(rec record.Record) error {
	unlock := m.locks.Lock(rec.Address)
	defer unlock()
	held, err := m.store.Get(rec.Address)
	if err == nil {
		rec = record.Merge(held, rec)
	}
	return m.store.Put(rec)
}
