package walletdb

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// InsertOrUpdatePaymentTxData upserts a PaymentTxData row keyed on tx_id
// (spec.md §4.A).
func (s *Store) InsertOrUpdatePaymentTxData(data *PaymentTxData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO payment_tx_data (tx_id, timestamp, amount_sat, payment_type, is_confirmed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_id) DO UPDATE SET
			timestamp = excluded.timestamp,
			amount_sat = excluded.amount_sat,
			payment_type = excluded.payment_type,
			is_confirmed = excluded.is_confirmed,
			updated_at = excluded.updated_at
	`,
		data.TxID, unixPtrOrNil(data.Timestamp), data.AmountSat, string(data.PaymentType),
		boolToInt(data.IsConfirmed), time.Now().Unix(),
	)
	return err
}

func unixPtrOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetPayments computes the derived Payment view (spec.md §3): each
// PaymentTxData joined with its owning swap, if any, keyed by
// lockup_tx_id/refund_tx_id/claim_tx_id. Ordered by timestamp ascending,
// with nil timestamps last.
func (s *Store) GetPayments() ([]*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txRows, err := s.db.Query(`
		SELECT tx_id, timestamp, amount_sat, payment_type, is_confirmed
		FROM payment_tx_data
	`)
	if err != nil {
		return nil, fmt.Errorf("walletdb: query payment_tx_data: %w", err)
	}

	type txRow struct {
		txID        string
		timestamp   sql.NullInt64
		amountSat   uint64
		paymentType string
		isConfirmed int
	}
	var txs []txRow
	for txRows.Next() {
		var r txRow
		if err := txRows.Scan(&r.txID, &r.timestamp, &r.amountSat, &r.paymentType, &r.isConfirmed); err != nil {
			txRows.Close()
			return nil, err
		}
		txs = append(txs, r)
	}
	txRows.Close()
	if err := txRows.Err(); err != nil {
		return nil, err
	}

	// Index swaps by the tx ids that may join to a PaymentTxData row.
	type swapJoin struct {
		swapID            string
		state             PaymentState
		preimage          *string
		refundTxID        *string
		refundTxAmountSat *uint64
		feesSat           *uint64
	}
	byTxID := make(map[string]swapJoin)

	sendRows, err := s.db.Query(`SELECT id, lockup_tx_id, refund_tx_id, preimage, state, payer_amount_sat, receiver_amount_sat FROM send_swaps`)
	if err != nil {
		return nil, err
	}
	for sendRows.Next() {
		var id, state string
		var lockupTxID, refundTxID, preimage sql.NullString
		var payerAmt, receiverAmt uint64
		if err := sendRows.Scan(&id, &lockupTxID, &refundTxID, &preimage, &state, &payerAmt, &receiverAmt); err != nil {
			sendRows.Close()
			return nil, err
		}
		fees := payerAmt - receiverAmt
		j := swapJoin{swapID: id, state: PaymentState(state), feesSat: &fees}
		if preimage.Valid {
			j.preimage = &preimage.String
		}
		if refundTxID.Valid {
			j.refundTxID = &refundTxID.String
		}
		if lockupTxID.Valid {
			byTxID[lockupTxID.String] = j
		}
		if refundTxID.Valid {
			byTxID[refundTxID.String] = j
		}
	}
	sendRows.Close()
	if err := sendRows.Err(); err != nil {
		return nil, err
	}

	receiveRows, err := s.db.Query(`SELECT id, claim_tx_id, state, claim_fees_sat FROM receive_swaps`)
	if err != nil {
		return nil, err
	}
	for receiveRows.Next() {
		var id, state string
		var claimTxID sql.NullString
		var claimFees uint64
		if err := receiveRows.Scan(&id, &claimTxID, &state, &claimFees); err != nil {
			receiveRows.Close()
			return nil, err
		}
		j := swapJoin{swapID: id, state: PaymentState(state), feesSat: &claimFees}
		if claimTxID.Valid {
			byTxID[claimTxID.String] = j
		}
	}
	receiveRows.Close()
	if err := receiveRows.Err(); err != nil {
		return nil, err
	}

	payments := make([]*Payment, 0, len(txs))
	for _, r := range txs {
		p := &Payment{
			TxID:        r.txID,
			AmountSat:   r.amountSat,
			PaymentType: PaymentType(r.paymentType),
			Timestamp:   timePtr(r.timestamp.Int64),
		}

		if j, ok := byTxID[r.txID]; ok {
			p.SwapID = &j.swapID
			p.Status = j.state
			p.Preimage = j.preimage
			p.RefundTxID = j.refundTxID
			p.FeesSat = j.feesSat
		} else if r.isConfirmed == 1 {
			p.Status = StateComplete
		} else {
			p.Status = StatePending
		}

		payments = append(payments, p)
	}

	sortPaymentsByTimestamp(payments)

	return payments, nil
}

// sortPaymentsByTimestamp sorts ascending, with nil timestamps (still
// pending/unconfirmed) ordered last so confirmed history stays chronological
// and fresh pending entries surface at the end of list_payments.
func sortPaymentsByTimestamp(payments []*Payment) {
	sort.Slice(payments, func(i, j int) bool { return paymentLess(payments[i], payments[j]) })
}

func paymentLess(a, b *Payment) bool {
	if a.Timestamp == nil {
		return false
	}
	if b.Timestamp == nil {
		return true
	}
	return a.Timestamp.Before(*b.Timestamp)
}
