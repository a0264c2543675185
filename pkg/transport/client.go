package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/routing"
	"github.com/karstnet/karst/pkg/spend"
	"github.com/karstnet/karst/pkg/store"
	"github.com/karstnet/karst/pkg/xor"
)

// HTTPDialer produces Clients speaking the protocol over plain HTTP.
// Every outbound request carries our own peer info so the remote table
// learns us, plus a correlation id for log matching across nodes.
type HTTPDialer struct {
	Self    routing.Peer
	Timeout time.Duration

	client *http.Client
}

func NewHTTPDialer(self routing.Peer, timeout time.Duration) *HTTPDialer {
	transport := &http.Transport{
		MaxIdleConns:    100,
		IdleConnTimeout: 60 * time.Second,
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
	}
	return &HTTPDialer{
		Self:    self,
		Timeout: timeout,
		client:  &http.Client{Transport: transport, Timeout: timeout},
	}
}

func (d *HTTPDialer) Dial(p routing.Peer) Client {
	return &httpClient{dialer: d, peer: p}
}

type httpClient struct {
	dialer *HTTPDialer
	peer   routing.Peer
}

func (c *httpClient) post(ctx context.Context, path string, body, out any) error {
	js, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := "http://" + c.peer.Host + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(js))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Karst-Request-Id", uuid.NewString())

	resp, err := c.dialer.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		return remoteError(resp.StatusCode, er.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// remoteError maps status codes back onto the error taxonomy so
// callers can errors.Is against the same sentinels locally and
// remotely.
func remoteError(code int, msg string) error {
	var base error
	switch code {
	case http.StatusBadRequest:
		base = record.ErrMalformed
	case http.StatusNotFound:
		base = store.ErrNotFound
	case http.StatusConflict:
		base = spend.ErrDoubleSpend
	case http.StatusInsufficientStorage:
		base = store.ErrCapacityExceeded
	default:
		return fmt.Errorf("peer returned %d: %s", code, msg)
	}
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}

func (c *httpClient) PutRecord(ctx context.Context, rec record.Record) error {
	return c.post(ctx, "/karst/v1/record", putRecordRequest{From: c.dialer.Self, Record: rec}, nil)
}

func (c *httpClient) GetRecord(ctx context.Context, addr xor.Address) (record.Record, error) {
	var out recordResponse
	err := c.post(ctx, "/karst/v1/record/get", addrRequest{From: c.dialer.Self, Address: addr}, &out)
	return out.Record, err
}

func (c *httpClient) ReplicateRequest(ctx context.Context, addr xor.Address) error {
	return c.post(ctx, "/karst/v1/replicate", addrRequest{From: c.dialer.Self, Address: addr}, nil)
}

func (c *httpClient) Manifest(ctx context.Context, entries []ManifestEntry) ([]ManifestEntry, error) {
	var out manifestResponse
	err := c.post(ctx, "/karst/v1/manifest", manifestRequest{From: c.dialer.Self, Entries: entries}, &out)
	return out.Entries, err
}

func (c *httpClient) SubmitSpend(ctx context.Context, s record.Spend) error {
	return c.post(ctx, "/karst/v1/spend", spendRequest{From: c.dialer.Self, Spend: s}, nil)
}

func (c *httpClient) SpendView(ctx context.Context, addr xor.Address) (spend.View, error) {
	var out spendViewResponse
	err := c.post(ctx, "/karst/v1/spend/view", addrRequest{From: c.dialer.Self, Address: addr}, &out)
	return out.View, err
}

func (c *httpClient) Ping(ctx context.Context) error {
	return c.post(ctx, "/karst/v1/ping", pingRequest{From: c.dialer.Self}, nil)
}
