// Package churn tracks peer liveness. Failed contacts are counted per
// peer; a peer crossing the failure threshold is evicted from the
// routing table, which fires the change events replication reacts to.
package churn

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/metrics"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/xor"
)

// State is a peer's health. Transitions are driven only by counted
// contact outcomes: any failure moves Healthy to Suspected, a success
// resets to Healthy, threshold consecutive failures evict.
type State uint8

const (
	Healthy State = iota
	Suspected
	Evicted
)

func (s State) String() string {
	switch s {
	case Suspected:
		return "suspected"
	case Evicted:
		return "evicted"
	default:
		return "healthy"
	}
}

type Monitor struct {
	table     *routing.Table
	threshold int
	logger    *zap.Logger

	mu       sync.Mutex
	failures map[xor.Address]int
}

func NewMonitor(table *routing.Table, threshold int, logger *zap.Logger) *Monitor {
	if threshold < 1 {
		threshold = 1
	}
	return &Monitor{
		table:     table,
		threshold: threshold,
		logger:    logger,
		failures:  make(map[xor.Address]int),
	}
}

// ReportFailure counts one failed contact and returns the peer's state
// after the count. Crossing the threshold evicts the peer from the
// routing table.
func (m *Monitor) ReportFailure(addr xor.Address) State {
	metrics.PeerFailures.Inc()
	m.mu.Lock()
	m.failures[addr]++
	n := m.failures[addr]
	if n < m.threshold {
		m.mu.Unlock()
		return Suspected
	}
	delete(m.failures, addr)
	m.mu.Unlock()

	if m.table.Remove(addr) {
		metrics.PeerEvictions.Inc()
		metrics.TablePeers.Set(float64(m.table.Len()))
		m.logger.Info("peer evicted",
			zap.String("peer", addr.Short()),
			zap.Int("failures", n))
	}
	return Evicted
}

// ReportSuccess resets the failure count and refreshes the table entry.
func (m *Monitor) ReportSuccess(p routing.Peer) {
	m.mu.Lock()
	delete(m.failures, p.Addr)
	m.mu.Unlock()
	p.LastSeen = time.Now()
	m.table.Insert(p)
	metrics.TablePeers.Set(float64(m.table.Len()))
}

// StateOf reports the current health of a table peer.
func (m *Monitor) StateOf(addr xor.Address) State {
	if !m.table.Contains(addr) {
		return Evicted
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[addr] > 0 {
		return Suspected
	}
	return Healthy
}

// Run probes the stalest peers on a timer until ctx is done. The probe
// must respect its context deadline; a timed-out probe counts as one
// failure and is not retried within the cycle.
func (m *Monitor) Run(ctx context.Context, interval, timeout time.Duration, batch int, probe func(context.Context, routing.Peer) error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.probeOnce(ctx, timeout, batch, probe)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context, timeout time.Duration, batch int, probe func(context.Context, routing.Peer) error) {
	var wg sync.WaitGroup
	for _, p := range m.table.LeastRecentlySeen(batch) {
		wg.Add(1)
		go func(p routing.Peer) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := probe(cctx, p); err != nil {
				st := m.ReportFailure(p.Addr)
				m.logger.Debug("probe failed",
					zap.String("peer", p.Addr.Short()),
					zap.String("state", st.String()),
					zap.Error(err))
				return
			}
			m.ReportSuccess(p)
		}(p)
	}
	wg.Wait()
}
