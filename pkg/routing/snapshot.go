package routing

import (
	"encoding/json"
	"fmt"
	"os"
)

// SaveSnapshot persists the current peer set. The snapshot is contact
// material for the next start, not authoritative state: a restarted
// node re-verifies reachability through ordinary probing.
func (t *Table) SaveSnapshot(path string) error {
	peers := t.Peers()
	body, err := json.MarshalIndent(peers, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return fmt.Errorf("write routing snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot reads a persisted peer set. A missing file is not an
// error; the node simply starts from its bootstrap contacts.
func LoadSnapshot(path string) ([]Peer, error) {
	body, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read routing snapshot: %w", err)
	}
	var peers []Peer
	if err := json.Unmarshal(body, &peers); err != nil {
		return nil, fmt.Errorf("decode routing snapshot: %w", err)
	}
	return peers, nil
}
