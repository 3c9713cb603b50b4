package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// submarineBlobFields is the subset of the opaque create_response_blob
// the engine needs to complete a send swap. Decoding is lazy and at
// point of use (spec.md §9: "the swapper create-response is persisted
// as an opaque serialized blob because its shape evolves with swapper
// protocol versions; the engine decodes it lazily at point of use").
// Decode is pure and idempotent: the same blob always yields the same
// fields, with no side effects.
type submarineBlobFields struct {
	Address            string `json:"address"`
	ExpectedAmountSat  uint64 `json:"expected_amount_sat"`
	TimeoutBlockHeight uint32 `json:"timeout_block_height"`
	RedeemScript       string `json:"redeem_script"`
	SwapperPubKey      string `json:"swapper_pub_key"`
}

func decodeSubmarineBlob(blob []byte) (*submarineBlobFields, *btcec.PublicKey, []byte, error) {
	var f submarineBlobFields
	if err := json.Unmarshal(blob, &f); err != nil {
		return nil, nil, nil, fmt.Errorf("engine: decode submarine blob: %w", err)
	}

	pubKeyBytes, err := hex.DecodeString(f.SwapperPubKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("engine: decode swapper pubkey: %w", err)
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("engine: parse swapper pubkey: %w", err)
	}

	redeemScript, err := hex.DecodeString(f.RedeemScript)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("engine: decode redeem script: %w", err)
	}

	return &f, pubKey, redeemScript, nil
}

// reverseBlobFields mirrors submarineBlobFields for receive swaps.
type reverseBlobFields struct {
	LockupAddress      string `json:"lockup_address"`
	OnchainAmountSat   uint64 `json:"onchain_amount_sat"`
	TimeoutBlockHeight uint32 `json:"timeout_block_height"`
	RedeemScript       string `json:"redeem_script"`
	SwapperPubKey      string `json:"swapper_pub_key"`
}

func decodeReverseBlob(blob []byte) (*reverseBlobFields, *btcec.PublicKey, []byte, error) {
	var f reverseBlobFields
	if err := json.Unmarshal(blob, &f); err != nil {
		return nil, nil, nil, fmt.Errorf("engine: decode reverse blob: %w", err)
	}

	pubKeyBytes, err := hex.DecodeString(f.SwapperPubKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("engine: decode swapper pubkey: %w", err)
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("engine: parse swapper pubkey: %w", err)
	}

	redeemScript, err := hex.DecodeString(f.RedeemScript)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("engine: decode redeem script: %w", err)
	}

	return &f, pubKey, redeemScript, nil
}
