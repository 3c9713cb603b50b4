package engine

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// RecoveryData is the standalone recovery blob a caller may have
// exported at receive-time, sufficient to rebuild and broadcast a claim
// transaction without the full persisted swap record (SPEC_FULL.md §9,
// supplemented from original_source's LBtcReverseRecovery: useful when
// the local database was lost but the user kept this blob).
type RecoveryData struct {
	SwapID       string
	RedeemScript []byte
	PreimageHex  string
	PrivateKey   *btcec.PrivateKey
	ClaimAddress string
}

// RecoverFunds rebuilds and broadcasts a script-path claim transaction
// from recovery data alone, bypassing the Persister entirely. It does
// not touch the swap record — callers recovering this way have already
// lost it. The funding amount isn't part of the recovery blob, so it is
// derived from the redeem script's on-chain history, the same lookup
// recoverUnilateralClaim uses to find a claim tx.
func (e *Engine) RecoverFunds(ctx context.Context, recovery RecoveryData) (string, error) {
	preimage, err := hex.DecodeString(recovery.PreimageHex)
	if err != nil {
		return "", fmt.Errorf("engine: decode recovery preimage: %w", err)
	}
	if len(preimage) != 32 {
		return "", fmt.Errorf("engine: recovery preimage must be 32 bytes")
	}
	if len(recovery.RedeemScript) == 0 {
		return "", fmt.Errorf("engine: recovery redeem script must be nonempty")
	}
	if recovery.PrivateKey == nil {
		return "", fmt.Errorf("engine: recovery private key must be non-nil")
	}

	history, err := e.chain.FetchScriptHistory(ctx, fmt.Sprintf("%x", recovery.RedeemScript))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendError, err)
	}
	var amountSat uint64
	for _, h := range history {
		if h.NetAmount > 0 {
			amountSat = uint64(h.NetAmount)
			break
		}
	}
	if amountSat == 0 {
		return "", fmt.Errorf("engine: no funding amount found on-chain for recovery redeem script")
	}

	var txHex string
	err = e.withWallet(func(w WalletBackend) error {
		pset, err := w.BuildClaimPSET(ctx, recovery.ClaimAddress, amountSat, recovery.RedeemScript, preimage, recovery.PrivateKey)
		if err != nil {
			return err
		}
		hex, _, err := w.FinalizePSET(ctx, pset)
		if err != nil {
			return err
		}
		txHex = hex
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignerError, err)
	}

	txid, err := e.chain.Broadcast(ctx, txHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendError, err)
	}

	e.log.Info("recovered funds via standalone recovery blob", "swap_id", recovery.SwapID, "txid", txid)
	return txid, nil
}
