// Package ingestclient is the monitor-side HTTP client for the
// ingest-and-query surface (spec §6). It implements
// reconciler.OfficeUpserter and broadcaster.Sender, and is built
// directly on the teacher's httpclient package: Default() for
// timeouts, DoWithRetry for 429/5xx backoff (GlobalHostSem already
// caps concurrent requests per upstream host), and safeurl to reject any base
// URL that is not http/https before the process ever dials it.
package ingestclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/http2"

	"github.com/snapetech/siteslam/internal/broadcaster"
	"github.com/snapetech/siteslam/internal/debounce"
	"github.com/snapetech/siteslam/internal/domain"
	"github.com/snapetech/siteslam/internal/httpclient"
	"github.com/snapetech/siteslam/internal/safeurl"
	"github.com/snapetech/siteslam/internal/siteconfig"
)

// Client submits office upserts and tick/state-change batches to the
// ingest-and-query service over HTTP. Ingest calls are fire-and-forget
// from the monitor's perspective (spec §5 "Backpressure"): failures are
// returned to the caller, who logs and moves on rather than blocking
// the next probe cycle.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Policy  httpclient.RetryPolicy
}

// New builds a Client for baseURL. It returns an error if baseURL is
// not http/https, rejecting SSRF-adjacent schemes before any request
// is ever issued (mirrors the teacher's safeurl use at its gateway
// boundary).
func New(baseURL string) (*Client, error) {
	if !safeurl.IsHTTPOrHTTPS(baseURL) {
		return nil, fmt.Errorf("ingestclient: base URL %q is not http/https", baseURL)
	}
	client := httpclient.Default()
	if t, ok := client.Transport.(*http.Transport); ok {
		// The ingest surface is a long-lived internal peer, not a
		// transient upstream provider. HTTP/2 is negotiated only over
		// https (TLS ALPN), where it multiplexes the tick-broadcast and
		// state-change posts over one connection; against an http://
		// base URL the transport stays on HTTP/1.1 keep-alive.
		_ = http2ConfigureTransport(t)
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    client,
		Policy:  httpclient.DefaultRetryPolicy,
	}, nil
}

func http2ConfigureTransport(t *http.Transport) error {
	return http2.ConfigureTransport(t)
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ingestclient: marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("ingestclient: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpclient.DoWithRetry(ctx, c.HTTP, req, c.Policy)
	if err != nil {
		return nil, fmt.Errorf("ingestclient: %s: %w", path, err)
	}
	return resp, nil
}

// officeUpsertRequest mirrors the ingest surface's POST /offices body
// (spec §6).
type officeUpsertRequest struct {
	Name          string `json:"name"`
	GatewayIP     string `json:"gateway_ip"`
	MXIP          string `json:"mx_ip"`
	TunnelProbeIP string `json:"tunnel_probe_ip"`
	RetriesDown   int    `json:"retries_down"`
	RetriesUp     int    `json:"retries_up"`
}

// UpsertOffice satisfies reconciler.OfficeUpserter.
func (c *Client) UpsertOffice(ctx context.Context, spec siteconfig.OfficeSpec) error {
	retriesDown, retriesUp := spec.EffectiveRetries()
	resp, err := c.post(ctx, "/offices", officeUpsertRequest{
		Name:          spec.Name,
		GatewayIP:     spec.GatewayIP,
		MXIP:          spec.MXIP,
		TunnelProbeIP: spec.TunnelProbeIP,
		RetriesDown:   retriesDown,
		RetriesUp:     retriesUp,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingestclient: upsert office %q: %s", spec.Name, statusSummary(resp))
	}
	return nil
}

// stateChangeRequest mirrors POST /ingest/state_change (spec §6).
type stateChangeRequest struct {
	Office string        `json:"office"`
	State  domain.State  `json:"state"`
	Sample domain.Sample `json:"sample"`
	At     int64         `json:"at"`
}

// IngestStateChange submits one confirmed transition. Used by the
// monitor's stdout-event wiring in cmd/sla-monitor, which calls this
// directly from the scheduler's ChangeFunc.
func (c *Client) IngestStateChange(ctx context.Context, office string, ev debounce.Event) error {
	resp, err := c.post(ctx, "/ingest/state_change", stateChangeRequest{
		Office: office,
		State:  ev.NewState,
		Sample: ev.Sample,
		At:     ev.At.Unix(),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingestclient: ingest state change %q: %s", office, statusSummary(resp))
	}
	return nil
}

// tickEntryRequest mirrors one element of the POST /ingest/tick array
// body (spec §6).
type tickEntryRequest struct {
	Office  string `json:"office"`
	Gateway bool   `json:"gateway"`
	MX      bool   `json:"mx"`
	IPsec   bool   `json:"ipsec"`
	TS      int64  `json:"ts"`
}

// IngestTicks satisfies broadcaster.Sender.
func (c *Client) IngestTicks(ctx context.Context, entries []broadcaster.TickEntry) error {
	if len(entries) == 0 {
		return nil
	}
	body := make([]tickEntryRequest, 0, len(entries))
	for _, e := range entries {
		if !e.Sampled {
			continue
		}
		body = append(body, tickEntryRequest{
			Office:  e.Office,
			Gateway: e.Sample.Gateway,
			MX:      e.Sample.MX,
			IPsec:   e.Sample.IPsec,
			TS:      e.TS,
		})
	}
	if len(body) == 0 {
		return nil
	}

	resp, err := c.post(ctx, "/ingest/tick", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingestclient: ingest tick batch: %s", statusSummary(resp))
	}
	return nil
}

func statusSummary(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
}
