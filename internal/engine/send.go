package engine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"

	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/internal/events"
	"github.com/klingon-exchange/bridgewallet/internal/walletdb"
)

// PreparedSend is the result of prepare_send, handed back unchanged to
// Send (spec.md §6).
type PreparedSend struct {
	Invoice  string
	FeesSat  uint64
	quotedAt int64
}

// PrepareSend quotes a send swap for invoice without creating it.
func (e *Engine) PrepareSend(ctx context.Context, invoice string) (*PreparedSend, error) {
	params := chainParams(e.network)
	decoded, err := zpay32.Decode(invoice, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}
	if decoded.MilliSat == nil {
		return nil, fmt.Errorf("%w: invoice has no amount", ErrInvalidInvoice)
	}
	if time.Now().After(decoded.Timestamp.Add(decoded.Expiry())) {
		return nil, fmt.Errorf("%w: invoice expired", ErrInvalidInvoice)
	}

	pairs, err := e.swapper.GetPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairsNotFound, err)
	}

	amountSat := uint64(decoded.MilliSat.ToSatoshis())
	if amountSat < pairs.MinSat || amountSat > pairs.MaxSat {
		return nil, ErrAmountOutOfRange
	}

	fees, err := e.totalSendFees(ctx, amountSat, pairs)
	if err != nil {
		return nil, err
	}
	if amountSat <= fees {
		return nil, ErrAmountOutOfRange
	}

	return &PreparedSend{Invoice: invoice, FeesSat: fees, quotedAt: pairs.QuotedAt}, nil
}

func estimateSubmarineFees(amountSat uint64, pairs *PairsInfo) uint64 {
	pct := uint64(float64(amountSat) * pairs.SubmarineFeeRate)
	return pct + pairs.MinerFeeSat
}

// totalSendFees is the swapper-quoted submarine fee plus our own lockup
// broadcast cost, estimated via EstimateLockupFee (spec.md §4.F.7), so
// prepare_send/Send quote and verify the fee the caller will actually
// pay to get the lockup tx mined, not just the swapper's cut.
func (e *Engine) totalSendFees(ctx context.Context, amountSat uint64, pairs *PairsInfo) (uint64, error) {
	lockupFee, err := e.EstimateLockupFee(ctx, amountSat)
	if err != nil {
		return 0, err
	}
	return estimateSubmarineFees(amountSat, pairs) + lockupFee, nil
}

// Send executes a previously prepared send swap (spec.md §4.F.1 event 1
// onward, driven synchronously through InvoiceSet). It returns the
// lockup broadcast txid and the swap id, so the caller can start live
// status tracking for a swap that didn't exist at StatusStream start-up.
func (e *Engine) Send(ctx context.Context, prepared *PreparedSend) (txid string, swapID string, err error) {
	params := chainParams(e.network)
	decoded, err := zpay32.Decode(prepared.Invoice, params)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}

	pairs, err := e.swapper.GetPairs(ctx)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrPairsNotFound, err)
	}
	amountSat := uint64(decoded.MilliSat.ToSatoshis())
	freshFees, err := e.totalSendFees(ctx, amountSat, pairs)
	if err != nil {
		return "", "", err
	}
	if freshFees != prepared.FeesSat {
		return "", "", ErrInvalidOrExpiredFees
	}

	swapKey, err := e.swapKeyPair(ctx)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrSignerError, err)
	}

	resp, err := e.swapper.CreateSubmarineSwap(ctx, prepared.Invoice, swapKey.PubKey())
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrSendError, err)
	}

	swap := &walletdb.SendSwap{
		ID:                 resp.ID,
		Invoice:            prepared.Invoice,
		PayerAmountSat:     resp.ExpectedAmountSat,
		ReceiverAmountSat:  amountSat,
		CreateResponseBlob: resp.RawBlob,
	}
	if err := e.store.InsertSendSwap(swap); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrPersistError, err)
	}

	lockupTxID, err := e.lockupSend(ctx, swap.ID, resp.Address, resp.ExpectedAmountSat)
	if err != nil {
		refundTxID, rerr := e.refundSend(ctx, swap.ID)
		if rerr != nil {
			return "", swap.ID, fmt.Errorf("%w: %v", ErrSendError, err)
		}
		return "", swap.ID, &RefundedError{Err: err, RefundTxID: refundTxID}
	}

	return lockupTxID, swap.ID, nil
}

// lockupSend implements §4.F.1 event 1 (InvoiceSet) and drives the
// cooperative claim dance once the lockup is broadcast.
func (e *Engine) lockupSend(ctx context.Context, swapID, address string, amountSat uint64) (string, error) {
	existing, err := e.store.FetchSendSwap(swapID)
	if err != nil {
		return "", err
	}
	if existing.LockupTxID != nil {
		// Idempotent replay: lockup already broadcast.
		return *existing.LockupTxID, nil
	}

	var txHex string
	err = e.withWallet(func(w WalletBackend) error {
		pset, err := w.BuildPSET(ctx, address, amountSat)
		if err != nil {
			return err
		}
		signed, err := w.SignPSET(ctx, pset)
		if err != nil {
			return err
		}
		hex, _, err := w.FinalizePSET(ctx, signed)
		if err != nil {
			return err
		}
		txHex = hex
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignerError, err)
	}

	broadcastTxID, err := e.chain.Broadcast(ctx, txHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendError, err)
	}

	if err := e.store.TryHandleSendUpdate(swapID, walletdb.StatePending, nil, &broadcastTxID, nil); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistError, err)
	}
	if err := e.store.InsertOrUpdatePaymentTxData(&walletdb.PaymentTxData{
		TxID:        broadcastTxID,
		AmountSat:   amountSat,
		PaymentType: walletdb.PaymentTypeSend,
		IsConfirmed: false,
	}); err != nil {
		e.log.Warn("failed to write provisional payment tx data", "error", err, "swap_id", swapID)
	}

	if err := e.cooperativeSendClaim(ctx, swapID); err != nil {
		e.log.Debug("cooperative claim not completed yet, swapper will retry or claim unilaterally", "swap_id", swapID, "error", err)
	}

	return broadcastTxID, nil
}

// OnSendStatus dispatches a raw status string from StatusStream or the
// synchronous send flow into the send state machine (spec.md §4.F.1).
// The validating transition inside handle_send_update is the single
// authoritative point (spec.md §9 status-duplication open question), so
// this is safe to call twice for the same event.
func (e *Engine) OnSendStatus(state string, swapID string) {
	ctx := context.Background()
	switch state {
	case "invoice.set":
		swap, err := e.store.FetchSendSwap(swapID)
		if err != nil {
			e.log.Warn("send status for unknown swap", "swap_id", swapID, "error", err)
			return
		}
		if swap.LockupTxID != nil {
			return
		}
		fields, _, _, err := decodeSubmarineBlob(swap.CreateResponseBlob)
		if err != nil {
			e.log.Error("decode submarine blob failed", "swap_id", swapID, "error", err)
			return
		}
		if _, err := e.lockupSend(ctx, swapID, fields.Address, fields.ExpectedAmountSat); err != nil {
			e.log.Error("lockup send failed", "swap_id", swapID, "error", err)
		}

	case "transaction.claim.pending":
		if err := e.cooperativeSendClaim(ctx, swapID); err != nil {
			e.log.Debug("cooperative claim retry failed", "swap_id", swapID, "error", err)
		}

	case "transaction.claimed":
		if err := e.recoverUnilateralClaim(ctx, swapID); err != nil {
			e.log.Error("failed to recover unilateral claim preimage", "swap_id", swapID, "error", err)
		}

	case "invoice.failedToPay", "swap.expired", "transaction.lockupFailed":
		if _, err := e.refundSend(ctx, swapID); err != nil {
			e.log.Error("send refund failed", "swap_id", swapID, "error", err)
		}

	default:
		// Any other state: ignore (spec.md §4.F.1 event 5).
	}
}

// cooperativeSendClaim implements §4.F.3.
func (e *Engine) cooperativeSendClaim(ctx context.Context, swapID string) error {
	swap, err := e.store.FetchSendSwap(swapID)
	if err != nil {
		return err
	}
	if swap.State == walletdb.StateComplete || swap.State == walletdb.StateFailed {
		return nil
	}

	_, swapperPubKey, _, err := decodeSubmarineBlob(swap.CreateResponseBlob)
	if err != nil {
		return err
	}

	details, err := e.swapper.GetClaimTxDetails(ctx, swapID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendError, err)
	}

	hash := sha256.Sum256(details.Preimage)
	params := chainParams(e.network)
	decoded, err := zpay32.Decode(swap.Invoice, params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}
	if decoded.PaymentHash == nil || hash != *decoded.PaymentHash {
		return ErrInvalidPreimage
	}

	swapKey, err := e.swapKeyPair(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerError, err)
	}

	partialSig, pubNonce, err := signMusigPartial(swapKey, swapperPubKey, details.PubNonce, details.TransactionHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerError, err)
	}

	if err := e.swapper.PostClaim(ctx, swapID, partialSig, pubNonce); err != nil {
		return fmt.Errorf("%w: %v", ErrSendError, err)
	}

	preimageHex := fmt.Sprintf("%x", details.Preimage)
	if err := e.store.TryHandleSendUpdate(swapID, walletdb.StateComplete, &preimageHex, nil, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistError, err)
	}

	if p, err := e.paymentForSwap(swapID, walletdb.PaymentTypeSend); err == nil {
		e.events.Notify(events.Event{Kind: events.KindPaymentSucceed, Payment: p})
	}
	return nil
}

// recoverUnilateralClaim implements §4.F.1 event 3: the swapper claimed
// without our cooperation, so the preimage must be scraped from the
// claim tx witness.
func (e *Engine) recoverUnilateralClaim(ctx context.Context, swapID string) error {
	swap, err := e.store.FetchSendSwap(swapID)
	if err != nil {
		return err
	}
	if swap.State == walletdb.StateComplete {
		return nil
	}

	_, _, redeemScript, err := decodeSubmarineBlob(swap.CreateResponseBlob)
	if err != nil {
		return err
	}

	history, err := e.chain.FetchScriptHistory(ctx, fmt.Sprintf("%x", redeemScript))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendError, err)
	}
	if len(history) == 0 {
		return fmt.Errorf("no claim transaction observed yet")
	}

	claimTxHex, err := e.chain.FetchTx(ctx, history[0].TxID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendError, err)
	}

	preimage, err := extractPreimageFromWitness(claimTxHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPreimage, err)
	}

	hash := sha256.Sum256(preimage)
	params := chainParams(e.network)
	decoded, err := zpay32.Decode(swap.Invoice, params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}
	if decoded.PaymentHash == nil || hash != *decoded.PaymentHash {
		return ErrInvalidPreimage
	}

	preimageHex := fmt.Sprintf("%x", preimage)
	if err := e.store.TryHandleSendUpdate(swapID, walletdb.StateComplete, &preimageHex, nil, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistError, err)
	}

	if p, err := e.paymentForSwap(swapID, walletdb.PaymentTypeSend); err == nil {
		e.events.Notify(events.Event{Kind: events.KindPaymentSucceed, Payment: p})
	}
	return nil
}

// refundSend implements §4.F.4: it refunds a failed send swap to a fresh
// wallet address. The cooperative attempt calls signMusigPartial without
// a swapper nonce, so Sign fails and PostRefund is not called; every
// refund is broadcast with cooperative set to false.
func (e *Engine) refundSend(ctx context.Context, swapID string) (string, error) {
	swap, err := e.store.FetchSendSwap(swapID)
	if err != nil {
		return "", err
	}
	if swap.RefundTxID != nil {
		return *swap.RefundTxID, nil
	}

	_, swapperPubKey, _, err := decodeSubmarineBlob(swap.CreateResponseBlob)
	if err != nil {
		return "", err
	}

	var refundAddr string
	err = e.withWallet(func(w WalletBackend) error {
		addr, err := w.NewAddress(ctx)
		if err != nil {
			return err
		}
		refundAddr = addr
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignerError, err)
	}

	swapKey, err := e.swapKeyPair(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignerError, err)
	}

	var refundMsg [32]byte
	copy(refundMsg[:], []byte(swapID))

	var pubNonce [musig2.PubNonceSize]byte
	cooperative := false
	if _, nonce, serr := signMusigPartial(swapKey, swapperPubKey, [musig2.PubNonceSize]byte{}, refundMsg); serr == nil {
		pubNonce = nonce
		if coopSig, cerr := e.swapper.PostRefund(ctx, swapID, pubNonce); cerr == nil && coopSig != nil {
			cooperative = true
		}
	}

	txid, err := e.broadcastRefund(ctx, refundAddr, swap.PayerAmountSat, cooperative)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendError, err)
	}

	if err := e.store.TryHandleSendUpdate(swapID, walletdb.StatePending, nil, nil, &txid); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistError, err)
	}

	if p, err := e.paymentForSwap(swapID, walletdb.PaymentTypeSend); err == nil {
		e.events.Notify(events.Event{Kind: events.KindPaymentRefundPending, Payment: p})
	}

	return txid, nil
}

// broadcastRefund builds, signs and broadcasts a tx paying amountSat to
// addr — a true refund when called from refundSend, or a receive claim
// when called from receiveClaim. cooperative is not read: the tx is
// built and signed the same way whichever value is passed. Unilateral
// script-path refunds are expected
// to be rejected by the network until the CLTV expires, so callers
// should anticipate retries.
func (e *Engine) broadcastRefund(ctx context.Context, addr string, amountSat uint64, cooperative bool) (string, error) {
	var txHex string
	err := e.withWallet(func(w WalletBackend) error {
		pset, err := w.BuildPSET(ctx, addr, amountSat)
		if err != nil {
			return err
		}
		signed, err := w.SignPSET(ctx, pset)
		if err != nil {
			return err
		}
		hex, _, err := w.FinalizePSET(ctx, signed)
		if err != nil {
			return err
		}
		txHex = hex
		return nil
	})
	if err != nil {
		return "", err
	}

	return e.chain.Broadcast(ctx, txHex)
}

// paymentForSwap returns the Payment row derived from a swap's current
// tracked tx id, used to populate event payloads.
func (e *Engine) paymentForSwap(swapID string, kind walletdb.PaymentType) (*walletdb.Payment, error) {
	payments, err := e.store.GetPayments()
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if p.SwapID != nil && *p.SwapID == swapID && p.PaymentType == kind {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no payment row for swap %s", swapID)
}

func chainParams(n config.Network) *chaincfg.Params {
	if n == config.Testnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}
