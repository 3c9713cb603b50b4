package walletdb

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertReceiveSwap inserts a new receive swap. Fails with ErrSwapExists if
// the id is already present.
func (s *Store) InsertReceiveSwap(swap *ReceiveSwap) error {
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
		INSERT INTO receive_swaps (
			id, preimage, create_response_blob, invoice, payer_amount_sat,
			receiver_amount_sat, claim_fees_sat, claim_tx_id, state, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		swap.ID, swap.Preimage, swap.CreateResponseBlob, swap.Invoice, swap.PayerAmountSat,
		swap.ReceiverAmountSat, swap.ClaimFeesSat, swap.ClaimTxID, string(swap.State),
		swap.CreatedAt.Unix(), swap.UpdatedAt.Unix(),
	)
	if isUniqueConstraintErr(err) {
		return ErrSwapExists
	}
	return err
}

// FetchReceiveSwap returns a receive swap by id, or ErrSwapNotFound.
func (s *Store) FetchReceiveSwap(id string) (*ReceiveSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, preimage, create_response_blob, invoice, payer_amount_sat,
			receiver_amount_sat, claim_fees_sat, claim_tx_id, state, created_at, updated_at
		FROM receive_swaps WHERE id = ?
	`, id)
	return scanReceiveSwap(row)
}

// TryHandleReceiveUpdate atomically re-validates and applies a state
// transition for a receive swap inside a single SQL transaction.
func (s *Store) TryHandleReceiveUpdate(id string, newState PaymentState, claimTxID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("walletdb: begin receive update: %w", err)
	}
	defer tx.Rollback()

	var currentState string
	err = tx.QueryRow(`SELECT state FROM receive_swaps WHERE id = ?`, id).Scan(&currentState)
	if err == sql.ErrNoRows {
		return ErrSwapNotFound
	}
	if err != nil {
		return fmt.Errorf("walletdb: read receive swap state: %w", err)
	}

	if !ValidTransition(PaymentState(currentState), newState) {
		return ErrInvalidState
	}

	_, err = tx.Exec(`
		UPDATE receive_swaps SET
			state = ?,
			claim_tx_id = COALESCE(?, claim_tx_id),
			updated_at = ?
		WHERE id = ?
	`, string(newState), claimTxID, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("walletdb: update receive swap: %w", err)
	}

	return tx.Commit()
}

// ListPendingReceiveByClaimTxID returns pending receive swaps keyed by their
// claim_tx_id, for use by the syncer's reconciliation pass.
func (s *Store) ListPendingReceiveByClaimTxID() (map[string]*ReceiveSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, preimage, create_response_blob, invoice, payer_amount_sat,
			receiver_amount_sat, claim_fees_sat, claim_tx_id, state, created_at, updated_at
		FROM receive_swaps WHERE state = ? AND claim_tx_id IS NOT NULL
	`, string(StatePending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*ReceiveSwap)
	for rows.Next() {
		swap, err := scanReceiveSwapRows(rows)
		if err != nil {
			return nil, err
		}
		if swap.ClaimTxID != nil {
			out[*swap.ClaimTxID] = swap
		}
	}
	return out, rows.Err()
}

// ListOngoingReceiveSwaps returns all receive swaps in state Created or
// Pending.
func (s *Store) ListOngoingReceiveSwaps() ([]*ReceiveSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, preimage, create_response_blob, invoice, payer_amount_sat,
			receiver_amount_sat, claim_fees_sat, claim_tx_id, state, created_at, updated_at
		FROM receive_swaps WHERE state IN (?, ?) ORDER BY created_at ASC
	`, string(StateCreated), string(StatePending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ReceiveSwap
	for rows.Next() {
		swap, err := scanReceiveSwapRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, swap)
	}
	return out, rows.Err()
}

func scanReceiveSwap(row *sql.Row) (*ReceiveSwap, error) {
	swap, err := scanReceiveSwapRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	return swap, err
}

func scanReceiveSwapRows(rows *sql.Rows) (*ReceiveSwap, error) {
	return scanReceiveSwapRow(rows)
}

func scanReceiveSwapRow(r rowScanner) (*ReceiveSwap, error) {
	var swap ReceiveSwap
	var claimTxID sql.NullString
	var state string
	var createdAt, updatedAt int64

	err := r.Scan(
		&swap.ID, &swap.Preimage, &swap.CreateResponseBlob, &swap.Invoice, &swap.PayerAmountSat,
		&swap.ReceiverAmountSat, &swap.ClaimFeesSat, &claimTxID, &state, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if claimTxID.Valid {
		swap.ClaimTxID = &claimTxID.String
	}
	swap.State = PaymentState(state)
	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)

	return &swap, nil
}
