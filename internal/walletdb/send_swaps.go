package walletdb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertSendSwap inserts a new send swap. Fails with ErrSwapExists if the id
// is already present.
func (s *Store) InsertSendSwap(swap *SendSwap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now
	if swap.State == "" {
		swap.State = StateCreated
	}

	_, err := s.db.Exec(`
		INSERT INTO send_swaps (
			id, invoice, payer_amount_sat, receiver_amount_sat, create_response_blob,
			lockup_tx_id, refund_tx_id, preimage, state, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		swap.ID, swap.Invoice, swap.PayerAmountSat, swap.ReceiverAmountSat, swap.CreateResponseBlob,
		swap.LockupTxID, swap.RefundTxID, swap.Preimage, string(swap.State),
		swap.CreatedAt.Unix(), swap.UpdatedAt.Unix(),
	)
	if isUniqueConstraintErr(err) {
		return ErrSwapExists
	}
	return err
}

// FetchSendSwap returns a send swap by id, or ErrSwapNotFound.
func (s *Store) FetchSendSwap(id string) (*SendSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, invoice, payer_amount_sat, receiver_amount_sat, create_response_blob,
			lockup_tx_id, refund_tx_id, preimage, state, created_at, updated_at
		FROM send_swaps WHERE id = ?
	`, id)
	return scanSendSwap(row)
}

// TryHandleSendUpdate atomically re-validates and applies a state
// transition for a send swap, inside a single SQL transaction, per
// spec.md §4.A: "must re-check the stored state against the
// caller-validated target inside the same transaction."
func (s *Store) TryHandleSendUpdate(id string, newState PaymentState, preimage, lockupTxID, refundTxID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("walletdb: begin send update: %w", err)
	}
	defer tx.Rollback()

	var currentState string
	err = tx.QueryRow(`SELECT state FROM send_swaps WHERE id = ?`, id).Scan(&currentState)
	if err == sql.ErrNoRows {
		return ErrSwapNotFound
	}
	if err != nil {
		return fmt.Errorf("walletdb: read send swap state: %w", err)
	}

	if !ValidTransition(PaymentState(currentState), newState) {
		return ErrInvalidState
	}

	_, err = tx.Exec(`
		UPDATE send_swaps SET
			state = ?,
			preimage = COALESCE(?, preimage),
			lockup_tx_id = COALESCE(?, lockup_tx_id),
			refund_tx_id = COALESCE(?, refund_tx_id),
			updated_at = ?
		WHERE id = ?
	`, string(newState), preimage, lockupTxID, refundTxID, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("walletdb: update send swap: %w", err)
	}

	return tx.Commit()
}

// ListPendingSendByRefundTxID returns pending send swaps keyed by their
// refund_tx_id, for use by the syncer's reconciliation pass.
func (s *Store) ListPendingSendByRefundTxID() (map[string]*SendSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, invoice, payer_amount_sat, receiver_amount_sat, create_response_blob,
			lockup_tx_id, refund_tx_id, preimage, state, created_at, updated_at
		FROM send_swaps WHERE state = ? AND refund_tx_id IS NOT NULL
	`, string(StatePending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*SendSwap)
	for rows.Next() {
		swap, err := scanSendSwapRows(rows)
		if err != nil {
			return nil, err
		}
		if swap.RefundTxID != nil {
			out[*swap.RefundTxID] = swap
		}
	}
	return out, rows.Err()
}

// ListOngoingSendSwaps returns all send swaps in state Created or Pending.
func (s *Store) ListOngoingSendSwaps() ([]*SendSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, invoice, payer_amount_sat, receiver_amount_sat, create_response_blob,
			lockup_tx_id, refund_tx_id, preimage, state, created_at, updated_at
		FROM send_swaps WHERE state IN (?, ?) ORDER BY created_at ASC
	`, string(StateCreated), string(StatePending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SendSwap
	for rows.Next() {
		swap, err := scanSendSwapRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, swap)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSendSwap(row *sql.Row) (*SendSwap, error) {
	swap, err := scanSendSwapRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	return swap, err
}

func scanSendSwapRows(rows *sql.Rows) (*SendSwap, error) {
	return scanSendSwapRow(rows)
}

func scanSendSwapRow(r rowScanner) (*SendSwap, error) {
	var swap SendSwap
	var lockupTxID, refundTxID, preimage sql.NullString
	var state string
	var createdAt, updatedAt int64

	err := r.Scan(
		&swap.ID, &swap.Invoice, &swap.PayerAmountSat, &swap.ReceiverAmountSat, &swap.CreateResponseBlob,
		&lockupTxID, &refundTxID, &preimage, &state, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lockupTxID.Valid {
		swap.LockupTxID = &lockupTxID.String
	}
	if refundTxID.Valid {
		swap.RefundTxID = &refundTxID.String
	}
	if preimage.Valid {
		swap.Preimage = &preimage.String
	}
	swap.State = PaymentState(state)
	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)

	return &swap, nil
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return containsUniqueConstraint(err.Error())
}

func containsUniqueConstraint(msg string) bool {
	for _, needle := range []string{"UNIQUE constraint failed", "PRIMARY KEY must be unique"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
