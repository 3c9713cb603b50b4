package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/lightningnetwork/lnd/zpay32"

	"github.com/klingon-exchange/bridgewallet/internal/events"
	"github.com/klingon-exchange/bridgewallet/internal/walletdb"
)

// PreparedReceive is the result of prepare_receive, handed back
// unchanged to Receive (spec.md §6).
type PreparedReceive struct {
	PayerAmountSat uint64
	FeesSat        uint64
	quotedAt       int64
}

// PrepareReceive quotes a receive swap for payerAmountSat without
// creating it.
func (e *Engine) PrepareReceive(ctx context.Context, payerAmountSat uint64) (*PreparedReceive, error) {
	pairs, err := e.swapper.GetPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairsNotFound, err)
	}
	if payerAmountSat < pairs.MinSat || payerAmountSat > pairs.MaxSat {
		return nil, ErrAmountOutOfRange
	}

	fees := estimateReverseFees(payerAmountSat, pairs)
	if payerAmountSat <= fees {
		return nil, ErrAmountOutOfRange
	}

	return &PreparedReceive{PayerAmountSat: payerAmountSat, FeesSat: fees, quotedAt: pairs.QuotedAt}, nil
}

func estimateReverseFees(amountSat uint64, pairs *PairsInfo) uint64 {
	pct := uint64(float64(amountSat) * pairs.ReverseFeeRate)
	return pct + pairs.MinerFeeSat
}

// ReceiveResult is the receive() façade output (spec.md §6).
type ReceiveResult struct {
	ID      string
	Invoice string
}

// Receive implements receive_payment (spec.md §4.F.2 event 1): creates a
// random preimage, posts a CreateReverse request, verifies the returned
// HODL invoice's payment hash, and inserts the swap in state Created.
func (e *Engine) Receive(ctx context.Context, prepared *PreparedReceive) (*ReceiveResult, error) {
	pairs, err := e.swapper.GetPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairsNotFound, err)
	}
	freshFees := estimateReverseFees(prepared.PayerAmountSat, pairs)
	if freshFees != prepared.FeesSat {
		return nil, ErrInvalidOrExpiredFees
	}

	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerError, err)
	}
	preimageHash := sha256.Sum256(preimage[:])

	claimKey, err := e.swapKeyPair(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerError, err)
	}

	resp, err := e.swapper.CreateReverseSwap(ctx, preimageHash, prepared.PayerAmountSat, claimKey.PubKey())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendError, err)
	}

	params := chainParams(e.network)
	decoded, err := zpay32.Decode(resp.Invoice, params)
	if err != nil {
		return nil, fmt.Errorf("%w: swapper returned unparseable invoice: %v", ErrInvalidInvoice, err)
	}
	if decoded.PaymentHash == nil || *decoded.PaymentHash != preimageHash {
		return nil, fmt.Errorf("%w: invoice payment hash does not match local preimage", ErrInvalidInvoice)
	}

	swap := &walletdb.ReceiveSwap{
		ID:                 resp.ID,
		Preimage:           fmt.Sprintf("%x", preimage),
		CreateResponseBlob: resp.RawBlob,
		Invoice:            resp.Invoice,
		PayerAmountSat:     prepared.PayerAmountSat,
		ReceiverAmountSat:  resp.OnchainAmountSat,
		ClaimFeesSat:       prepared.FeesSat,
	}
	if err := e.store.InsertReceiveSwap(swap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistError, err)
	}

	return &ReceiveResult{ID: swap.ID, Invoice: swap.Invoice}, nil
}

// OnReceiveStatus dispatches a raw status string into the receive state
// machine (spec.md §4.F.2).
func (e *Engine) OnReceiveStatus(state string, swapID string) {
	ctx := context.Background()
	switch state {
	case "transaction.mempool", "transaction.confirmed":
		if err := e.receiveClaim(ctx, swapID); err != nil {
			e.log.Debug("receive claim not completed", "swap_id", swapID, "error", err)
		}

	case "swap.expired", "invoice.expired", "transaction.failed", "transaction.refunded":
		if err := e.store.TryHandleReceiveUpdate(swapID, walletdb.StateFailed, nil); err != nil {
			e.log.Error("failed to mark receive swap failed", "swap_id", swapID, "error", err)
			return
		}
		if p, err := e.paymentForSwap(swapID, walletdb.PaymentTypeReceive); err == nil {
			e.events.Notify(events.Event{Kind: events.KindPaymentFailed, Payment: p})
		}

	case "invoice.settled", "created", "transaction.minerFeePaid":
		// No action required (spec.md §4.F.2 event 4).

	default:
	}
}

// receiveClaim implements §4.F.5.
func (e *Engine) receiveClaim(ctx context.Context, swapID string) error {
	swap, err := e.store.FetchReceiveSwap(swapID)
	if err != nil {
		return err
	}
	if swap.ClaimTxID != nil {
		return ErrAlreadyClaimed
	}

	if err := e.store.TryHandleReceiveUpdate(swapID, walletdb.StatePending, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistError, err)
	}

	_, swapperPubKey, _, err := decodeReverseBlob(swap.CreateResponseBlob)
	if err != nil {
		return err
	}

	var claimAddr string
	err = e.withWallet(func(w WalletBackend) error {
		addr, err := w.NewAddress(ctx)
		if err != nil {
			return err
		}
		claimAddr = addr
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerError, err)
	}

	claimKey, err := e.swapKeyPair(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerError, err)
	}

	var claimMsg [32]byte
	copy(claimMsg[:], []byte(swapID))
	_, _, err = signMusigPartial(claimKey, swapperPubKey, [musig2.PubNonceSize]byte{}, claimMsg)
	if err != nil {
		e.log.Debug("cooperative claim signing unavailable, falling back to script-path", "swap_id", swapID, "error", err)
	}

	txid, err := e.broadcastRefund(ctx, claimAddr, swap.ReceiverAmountSat, err == nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendError, err)
	}

	if err := e.store.InsertOrUpdatePaymentTxData(&walletdb.PaymentTxData{
		TxID:        txid,
		AmountSat:   swap.ReceiverAmountSat,
		PaymentType: walletdb.PaymentTypeReceive,
		IsConfirmed: false,
	}); err != nil {
		e.log.Warn("failed to write provisional payment tx data", "error", err, "swap_id", swapID)
	}

	if err := e.store.TryHandleReceiveUpdate(swapID, walletdb.StatePending, &txid); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistError, err)
	}

	if p, perr := e.paymentForSwap(swapID, walletdb.PaymentTypeReceive); perr == nil {
		e.events.Notify(events.Event{Kind: events.KindPaymentWaitingConfirmation, Payment: p})
	}

	return nil
}
