package bootstrap

import "github.com/karstnet/karst/pkg/routing"

type AnnounceRequest struct {
	Peer      routing.Peer `json:"peer"`
	Timestamp int64        `json:"timestamp"`
	Signature string       `json:"signature"`
}

type AnnounceResponse struct {
	Peers []routing.Peer `json:"peers"`
}
