package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "karst_records_held", Help: "Records currently in the local store"},
	)
	StoreRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "karst_store_rejections_total", Help: "Rejected puts by reason"},
		[]string{"reason"},
	)
	StoreEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "karst_store_evictions_total", Help: "Records evicted under capacity pressure"},
	)
	ReplicationPushes = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "karst_replication_pushes_total", Help: "Records pushed to close-group members"},
	)
	ReplicationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "karst_replication_failures_total", Help: "Failed replication calls"},
	)
	ReplicationDrops = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "karst_replication_drops_total", Help: "Records dropped after leaving their close group"},
	)
	PeerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "karst_peer_failures_total", Help: "Failed peer contacts"},
	)
	PeerEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "karst_peer_evictions_total", Help: "Peers evicted after repeated failures"},
	)
	DoubleSpends = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "karst_double_spends_total", Help: "Conflicting spends observed"},
	)
	TablePeers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "karst_table_peers", Help: "Peers in the routing table"},
	)
)

func Init() {
	prometheus.MustRegister(RecordsHeld, StoreRejections, StoreEvictions)
	prometheus.MustRegister(ReplicationPushes, ReplicationFailures, ReplicationDrops)
	prometheus.MustRegister(PeerFailures, PeerEvictions, DoubleSpends, TablePeers)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
