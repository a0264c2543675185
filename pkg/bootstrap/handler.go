package bootstrap

import (
	"crypto/hmac"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/routing"
)

// Handler serves /announce: it verifies the HMAC, learns the peer and
// answers with the full known peer set including ourselves.
type Handler struct {
	table  *routing.Table
	secret string
	logger *zap.Logger
}

func NewHandler(table *routing.Table, secret string, logger *zap.Logger) *Handler {
	return &Handler{table: table, secret: secret, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AnnounceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	expected := sign(req.Peer, req.Timestamp, h.secret)
	if !hmac.Equal([]byte(expected), []byte(req.Signature)) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	h.table.Insert(req.Peer)

	peersList := append(h.table.Peers(), h.table.Self())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AnnounceResponse{Peers: peersList})

	h.logger.Info("peer announced",
		zap.String("peer", req.Peer.Addr.Short()),
		zap.String("host", req.Peer.Host))
}
