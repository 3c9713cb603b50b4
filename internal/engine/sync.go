package engine

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/bridgewallet/internal/events"
	"github.com/klingon-exchange/bridgewallet/internal/walletdb"
)

// SyncPaymentsWithChainData implements sync_payments_with_chain_data
// (spec.md §4.F.6). It is called by Sync (used by the periodic syncer and
// the façade's Sync) and by GetInfo when withScan is set; the status
// handlers OnSendStatus and OnReceiveStatus do not call it.
func (e *Engine) SyncPaymentsWithChainData(ctx context.Context, withScan bool) error {
	var history []TxHistoryEntry
	if withScan {
		var err error
		err = e.withWallet(func(w WalletBackend) error {
			h, err := w.ScanHistory(ctx)
			if err != nil {
				return err
			}
			history = h
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: scan history: %v", ErrPersistError, err)
		}
	}

	pendingRefunds, err := e.store.ListPendingSendByRefundTxID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistError, err)
	}
	pendingClaims, err := e.store.ListPendingReceiveByClaimTxID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistError, err)
	}

	for _, tx := range history {
		paymentType := walletdb.PaymentTypeReceive
		amount := tx.NetAmount
		if amount < 0 {
			paymentType = walletdb.PaymentTypeSend
			amount = -amount
		}

		if err := e.store.InsertOrUpdatePaymentTxData(&walletdb.PaymentTxData{
			TxID:        tx.TxID,
			AmountSat:   uint64(amount),
			PaymentType: paymentType,
			IsConfirmed: tx.Confirmed,
		}); err != nil {
			e.log.Warn("failed to upsert payment tx data during sync", "tx_id", tx.TxID, "error", err)
			continue
		}

		if !tx.Confirmed {
			continue
		}

		if receiveSwap, ok := pendingClaims[tx.TxID]; ok {
			if err := e.store.TryHandleReceiveUpdate(receiveSwap.ID, walletdb.StateComplete, nil); err != nil {
				e.log.Warn("failed to complete receive swap during sync", "swap_id", receiveSwap.ID, "error", err)
				continue
			}
			if p, perr := e.paymentForSwap(receiveSwap.ID, walletdb.PaymentTypeReceive); perr == nil {
				e.events.Notify(events.Event{Kind: events.KindPaymentSucceed, Payment: p})
			}
		}

		if sendSwap, ok := pendingRefunds[tx.TxID]; ok {
			if err := e.store.TryHandleSendUpdate(sendSwap.ID, walletdb.StateFailed, nil, nil, nil); err != nil {
				e.log.Warn("failed to fail send swap during sync", "swap_id", sendSwap.ID, "error", err)
				continue
			}
			if p, perr := e.paymentForSwap(sendSwap.ID, walletdb.PaymentTypeSend); perr == nil {
				e.events.Notify(events.Event{Kind: events.KindPaymentRefunded, Payment: p})
			}
		}
	}

	e.events.Notify(events.Event{Kind: events.KindSynced})
	return nil
}

// Sync is the façade sync() operation: a manual trigger of the same
// reconciliation the periodic syncer runs.
func (e *Engine) Sync(ctx context.Context) error {
	return e.SyncPaymentsWithChainData(ctx, true)
}
