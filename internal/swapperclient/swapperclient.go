// Package swapperclient adapts the third-party swap service REST API
// (spec.md §2, component D) to the engine.SwapperClient interface.
package swapperclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/google/uuid"

	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/internal/engine"
	"github.com/klingon-exchange/bridgewallet/pkg/logging"
)

// Client is the thin SwapperClient REST adapter.
type Client struct {
	restURL string
	wsURL   string
	http    *http.Client
	log     *logging.Logger
}

// New builds a Client pointed at the network's compile-time swapper
// endpoints (internal/config).
func New(network config.Network) (*Client, error) {
	endpoints, err := config.GetEndpoints(network)
	if err != nil {
		return nil, fmt.Errorf("swapperclient: %w", err)
	}
	return &Client{
		restURL: endpoints.SwapperRESTURL,
		wsURL:   endpoints.SwapperWSURL,
		http:    &http.Client{Timeout: config.HTTPTimeout},
		log:     logging.GetDefault().Component("swapperclient"),
	}, nil
}

// GetPairs returns the swapper's currently quoted limits and fees.
func (c *Client) GetPairs(ctx context.Context) (*engine.PairsInfo, error) {
	var resp struct {
		MinSat           uint64  `json:"min_sat"`
		MaxSat           uint64  `json:"max_sat"`
		SubmarineFeeRate float64 `json:"submarine_fee_rate"`
		ReverseFeeRate   float64 `json:"reverse_fee_rate"`
		MinerFeeSat      uint64  `json:"miner_fee_sat"`
		QuotedAt         int64   `json:"quoted_at"`
	}
	if err := c.get(ctx, "/v2/swap/pairs", &resp); err != nil {
		return nil, fmt.Errorf("swapperclient: get pairs: %w", err)
	}
	return &engine.PairsInfo{
		MinSat:           resp.MinSat,
		MaxSat:           resp.MaxSat,
		SubmarineFeeRate: resp.SubmarineFeeRate,
		ReverseFeeRate:   resp.ReverseFeeRate,
		MinerFeeSat:      resp.MinerFeeSat,
		QuotedAt:         resp.QuotedAt,
	}, nil
}

// CreateSubmarineSwap starts a send swap for invoice.
func (c *Client) CreateSubmarineSwap(ctx context.Context, invoice string, refundPubKey *btcec.PublicKey) (*engine.SubmarineSwapResponse, error) {
	reqID := uuid.New().String()
	body, err := json.Marshal(map[string]string{
		"request_id":     reqID,
		"invoice":        invoice,
		"refund_pub_key": hex.EncodeToString(refundPubKey.SerializeCompressed()),
	})
	if err != nil {
		return nil, fmt.Errorf("swapperclient: encode submarine request: %w", err)
	}

	var raw json.RawMessage
	var resp struct {
		ID                 string `json:"id"`
		Address            string `json:"address"`
		ExpectedAmountSat  uint64 `json:"expected_amount_sat"`
		TimeoutBlockHeight uint32 `json:"timeout_block_height"`
		RedeemScript       string `json:"redeem_script"`
		SwapperPubKey      string `json:"swapper_pub_key"`
	}
	if err := c.postRaw(ctx, "/v2/swap/submarine", body, &raw, &resp); err != nil {
		return nil, fmt.Errorf("swapperclient: create submarine swap: %w", err)
	}

	redeemScript, err := hex.DecodeString(resp.RedeemScript)
	if err != nil {
		return nil, fmt.Errorf("swapperclient: decode redeem script: %w", err)
	}
	swapperPub, err := decodePubKey(resp.SwapperPubKey)
	if err != nil {
		return nil, fmt.Errorf("swapperclient: decode swapper pubkey: %w", err)
	}

	return &engine.SubmarineSwapResponse{
		ID:                 resp.ID,
		Address:            resp.Address,
		ExpectedAmountSat:  resp.ExpectedAmountSat,
		TimeoutBlockHeight: resp.TimeoutBlockHeight,
		RedeemScript:       redeemScript,
		SwapperPubKey:      swapperPub,
		RawBlob:            raw,
	}, nil
}

// CreateReverseSwap starts a receive swap binding preimageHash.
func (c *Client) CreateReverseSwap(ctx context.Context, preimageHash [32]byte, payerAmountSat uint64, claimPubKey *btcec.PublicKey) (*engine.ReverseSwapResponse, error) {
	reqID := uuid.New().String()
	body, err := json.Marshal(map[string]interface{}{
		"request_id":      reqID,
		"preimage_hash":   hex.EncodeToString(preimageHash[:]),
		"payer_amount_sat": payerAmountSat,
		"claim_pub_key":   hex.EncodeToString(claimPubKey.SerializeCompressed()),
	})
	if err != nil {
		return nil, fmt.Errorf("swapperclient: encode reverse request: %w", err)
	}

	var raw json.RawMessage
	var resp struct {
		ID                 string `json:"id"`
		Invoice            string `json:"invoice"`
		LockupAddress      string `json:"lockup_address"`
		OnchainAmountSat   uint64 `json:"onchain_amount_sat"`
		TimeoutBlockHeight uint32 `json:"timeout_block_height"`
		RedeemScript       string `json:"redeem_script"`
		SwapperPubKey      string `json:"swapper_pub_key"`
	}
	if err := c.postRaw(ctx, "/v2/swap/reverse", body, &raw, &resp); err != nil {
		return nil, fmt.Errorf("swapperclient: create reverse swap: %w", err)
	}

	redeemScript, err := hex.DecodeString(resp.RedeemScript)
	if err != nil {
		return nil, fmt.Errorf("swapperclient: decode redeem script: %w", err)
	}
	swapperPub, err := decodePubKey(resp.SwapperPubKey)
	if err != nil {
		return nil, fmt.Errorf("swapperclient: decode swapper pubkey: %w", err)
	}

	return &engine.ReverseSwapResponse{
		ID:                 resp.ID,
		Invoice:            resp.Invoice,
		LockupAddress:      resp.LockupAddress,
		OnchainAmountSat:   resp.OnchainAmountSat,
		TimeoutBlockHeight: resp.TimeoutBlockHeight,
		RedeemScript:       redeemScript,
		SwapperPubKey:      swapperPub,
		RawBlob:            raw,
	}, nil
}

// GetClaimTxDetails fetches the swapper's cooperative claim offer.
func (c *Client) GetClaimTxDetails(ctx context.Context, swapID string) (*engine.ClaimTxDetails, error) {
	var resp struct {
		Preimage        string `json:"preimage"`
		PubNonce        string `json:"pub_nonce"`
		TransactionHash string `json:"transaction_hash"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v2/swap/submarine/%s/claim", swapID), &resp); err != nil {
		return nil, fmt.Errorf("swapperclient: get claim tx details: %w", err)
	}

	preimage, err := hex.DecodeString(resp.Preimage)
	if err != nil {
		return nil, fmt.Errorf("swapperclient: decode preimage: %w", err)
	}
	pubNonceBytes, err := hex.DecodeString(resp.PubNonce)
	if err != nil || len(pubNonceBytes) != musig2.PubNonceSize {
		return nil, fmt.Errorf("swapperclient: decode pub nonce: %w", err)
	}
	txHashBytes, err := hex.DecodeString(resp.TransactionHash)
	if err != nil || len(txHashBytes) != 32 {
		return nil, fmt.Errorf("swapperclient: decode transaction hash: %w", err)
	}

	var pubNonce [musig2.PubNonceSize]byte
	copy(pubNonce[:], pubNonceBytes)
	var txHash [32]byte
	copy(txHash[:], txHashBytes)

	return &engine.ClaimTxDetails{
		Preimage:        preimage,
		PubNonce:        pubNonce,
		TransactionHash: txHash,
	}, nil
}

// PostClaim posts our partial signature completing a cooperative claim.
func (c *Client) PostClaim(ctx context.Context, swapID string, partialSig *musig2.PartialSignature, pubNonce [musig2.PubNonceSize]byte) error {
	sigBytes := partialSig.S.Bytes()
	body, err := json.Marshal(map[string]string{
		"partial_sig": hex.EncodeToString(sigBytes[:]),
		"pub_nonce":   hex.EncodeToString(pubNonce[:]),
	})
	if err != nil {
		return fmt.Errorf("swapperclient: encode claim: %w", err)
	}
	if err := c.post(ctx, fmt.Sprintf("/v2/swap/submarine/%s/claim", swapID), body, nil); err != nil {
		return fmt.Errorf("swapperclient: post claim: %w", err)
	}
	return nil
}

// PostRefund requests a cooperative refund co-signature.
func (c *Client) PostRefund(ctx context.Context, swapID string, pubNonce [musig2.PubNonceSize]byte) (*musig2.PartialSignature, error) {
	body, err := json.Marshal(map[string]string{
		"pub_nonce": hex.EncodeToString(pubNonce[:]),
	})
	if err != nil {
		return nil, fmt.Errorf("swapperclient: encode refund request: %w", err)
	}

	var resp struct {
		PartialSig string `json:"partial_sig"`
	}
	if err := c.post(ctx, fmt.Sprintf("/v2/swap/submarine/%s/refund", swapID), body, &resp); err != nil {
		return nil, fmt.Errorf("swapperclient: cooperative refund declined: %w", err)
	}

	sigBytes, err := hex.DecodeString(resp.PartialSig)
	if err != nil {
		return nil, fmt.Errorf("swapperclient: decode partial sig: %w", err)
	}

	var s btcec.ModNScalar
	s.SetByteSlice(sigBytes)
	return &musig2.PartialSignature{S: &s}, nil
}

// StatusWSURL returns the websocket URL statusstream dials to subscribe
// to swapID's status feed.
func (c *Client) StatusWSURL(swapID string) string {
	return fmt.Sprintf("%s/v2/ws", c.wsURL)
}

func decodePubKey(s string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(b)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.restURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// postRaw is like post but also captures the raw response body, which
// the engine persists verbatim as the opaque handshake blob (spec.md §9).
func (c *Client) postRaw(ctx context.Context, path string, body []byte, raw *json.RawMessage, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.restURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

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

	*raw = json.RawMessage(append([]byte{}, data...))
	return json.Unmarshal(data, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
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

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
