// Package chainclient adapts a Liquid chain indexer (spec.md §2,
// component C) to the engine.ChainClient interface. The real Electrum
// protocol (TCP, stateful subscriptions) is an external collaborator
// out of this exercise's scope; this thin adapter talks to an
// Esplora-style HTTP indexer, the same shape of endpoint the swapper
// itself exposes for its own chain awareness.
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/internal/engine"
	"github.com/klingon-exchange/bridgewallet/pkg/logging"
)

// Client is the thin ChainClient adapter.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logging.Logger
}

// New builds a Client pointed at the network's compile-time Electrum
// endpoint (internal/config).
func New(network config.Network) (*Client, error) {
	endpoints, err := config.GetEndpoints(network)
	if err != nil {
		return nil, fmt.Errorf("chainclient: %w", err)
	}
	baseURL := endpoints.ElectrumURL
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: config.HTTPTimeout},
		log:     logging.GetDefault().Component("chainclient"),
	}, nil
}

// Broadcast submits a raw transaction and returns its txid.
func (c *Client) Broadcast(ctx context.Context, txHex string) (string, error) {
	body, err := json.Marshal(map[string]string{"tx": txHex})
	if err != nil {
		return "", fmt.Errorf("chainclient: encode broadcast request: %w", err)
	}

	var resp struct {
		TxID string `json:"txid"`
	}
	if err := c.postJSON(ctx, "/tx", body, &resp); err != nil {
		return "", fmt.Errorf("chainclient: broadcast: %w", err)
	}
	c.log.Debug("broadcast transaction", "txid", resp.TxID)
	return resp.TxID, nil
}

// FetchTx returns the raw hex of a previously broadcast transaction.
func (c *Client) FetchTx(ctx context.Context, txid string) (string, error) {
	var resp struct {
		Hex string `json:"hex"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/tx/%s/hex", txid), &resp); err != nil {
		return "", fmt.Errorf("chainclient: fetch tx %s: %w", txid, err)
	}
	return resp.Hex, nil
}

// FetchScriptHistory returns the history of a script or address, most
// recent first, used to scrape a unilateral claim tx witness (spec.md
// §4.F.1 event 3).
func (c *Client) FetchScriptHistory(ctx context.Context, scriptOrAddr string) ([]engine.TxHistoryEntry, error) {
	var resp []struct {
		TxID        string `json:"txid"`
		NetAmount   int64  `json:"net_amount_sat"`
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint32 `json:"block_height"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/address/%s/txs", scriptOrAddr), &resp); err != nil {
		return nil, fmt.Errorf("chainclient: fetch script history: %w", err)
	}

	entries := make([]engine.TxHistoryEntry, len(resp))
	for i, r := range resp {
		entries[i] = engine.TxHistoryEntry{
			TxID:        r.TxID,
			NetAmount:   r.NetAmount,
			Confirmed:   r.Confirmed,
			BlockHeight: r.BlockHeight,
		}
	}
	return entries, nil
}

// ChainTip reports the current best block height.
func (c *Client) ChainTip(ctx context.Context) (uint32, error) {
	var resp struct {
		Height uint32 `json:"height"`
	}
	if err := c.getJSON(ctx, "/blocks/tip/height", &resp); err != nil {
		return 0, fmt.Errorf("chainclient: fetch chain tip: %w", err)
	}
	return resp.Height, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	c.log.Debug("request completed", "path", req.URL.Path, "elapsed", time.Since(start))

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
