package bootstrap

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/routing"
)

func sign(p routing.Peer, ts int64, secret string) string {
	payload := p.Addr.String() + p.Host + strconv.FormatInt(ts, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Announce registers this node with a bootstrap server and returns the
// current peer set. Used on first start and on every restart: the
// returned peers reseed the routing table before replication resumes.
func Announce(serverURL string, self routing.Peer, secret string, logger *zap.Logger) ([]routing.Peer, error) {
	ts := time.Now().Unix()
	reqData := AnnounceRequest{
		Peer:      self,
		Timestamp: ts,
		Signature: sign(self, ts, secret),
	}

	body, _ := json.Marshal(reqData)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(serverURL+"/announce", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("announce request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("announce failed with status %s", resp.Status)
	}

	var announceResp AnnounceResponse
	if err := json.NewDecoder(resp.Body).Decode(&announceResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	logger.Info("announce sent", zap.String("server", serverURL))

	return announceResp.Peers, nil
}
