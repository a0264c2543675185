// Package health reports the node's own operational state for probes
// and load balancers.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/store"
)

type Report struct {
	Status        string `json:"status"` // ok | isolated
	Peers         int    `json:"peers"`
	Records       int    `json:"records"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type Checker struct {
	table   *routing.Table
	store   *store.Store
	started time.Time
}

func New(table *routing.Table, st *store.Store) *Checker {
	return &Checker{table: table, store: st, started: time.Now()}
}

// Check samples the node. A node with an empty routing table cannot
// replicate or answer quorum reads, so it reports isolated; it still
// serves what it holds.
func (c *Checker) Check() Report {
	r := Report{
		Status:        "ok",
		Peers:         c.table.Len(),
		Records:       c.store.Count(),
		UptimeSeconds: int64(time.Since(c.started).Seconds()),
	}
	if r.Peers == 0 {
		r.Status = "isolated"
	}
	return r
}

func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		report := c.Check()
		w.Header().Set("Content-Type", "application/json")
		if report.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}
