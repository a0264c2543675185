// Package gossip exchanges routing table entries with random peers, so
// nodes keep discovering each other after the initial bootstrap and a
// partitioned table heals without operator action.
package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/churn"
	"github.com/karstnet/karst/pkg/routing"
)

type Message struct {
	From  routing.Peer   `json:"from"`
	Peers []routing.Peer `json:"peers"`
}

// Run pushes our peer list to one random peer per tick and merges
// whatever it answers with. Send failures count against the target's
// liveness.
func Run(ctx context.Context, table *routing.Table, monitor *churn.Monitor, interval time.Duration, logger *zap.Logger) {
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			plist := table.Peers()
			if len(plist) == 0 {
				continue
			}
			target := plist[rand.Intn(len(plist))]
			exchangeOnce(client, table, monitor, target, logger)
		}
	}
}

func exchangeOnce(client *http.Client, table *routing.Table, monitor *churn.Monitor, target routing.Peer, logger *zap.Logger) {
	msg := Message{From: table.Self(), Peers: table.Peers()}
	data, _ := json.Marshal(msg)

	resp, err := client.Post("http://"+target.Host+"/gossip", "application/json", bytes.NewReader(data))
	if err != nil {
		monitor.ReportFailure(target.Addr)
		logger.Debug("gossip send failed",
			zap.String("target", target.Addr.Short()), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	monitor.ReportSuccess(target)

	var reply Message
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return
	}
	merge(table, reply.Peers)
	logger.Debug("gossip exchanged",
		zap.String("with", target.Addr.Short()),
		zap.Int("sent", len(msg.Peers)),
		zap.Int("received", len(reply.Peers)))
}

// Handler serves inbound exchanges: merge the sender's list, answer
// with ours.
func Handler(table *routing.Table, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		merge(table, append(msg.Peers, msg.From))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Message{From: table.Self(), Peers: table.Peers()})

		logger.Debug("gossip received",
			zap.String("from", msg.From.Addr.Short()),
			zap.Int("count", len(msg.Peers)))
	}
}

func merge(table *routing.Table, peers []routing.Peer) {
	self := table.Self().Addr
	for _, p := range peers {
		if p.Addr.IsZero() || p.Addr == self || p.Host == "" {
			continue
		}
		table.Insert(p)
	}
}
