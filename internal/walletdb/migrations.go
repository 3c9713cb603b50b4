package walletdb

import "fmt"

// migration is one forward-only schema step. Migrations never mutate or
// drop existing migrations; new changes are appended.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS send_swaps (
			id TEXT PRIMARY KEY,
			invoice TEXT NOT NULL,
			payer_amount_sat INTEGER NOT NULL,
			receiver_amount_sat INTEGER NOT NULL,
			create_response_blob BLOB NOT NULL,
			lockup_tx_id TEXT,
			refund_tx_id TEXT,
			preimage TEXT,
			state TEXT NOT NULL DEFAULT 'created',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_send_swaps_state ON send_swaps(state);
		CREATE INDEX IF NOT EXISTS idx_send_swaps_refund_tx ON send_swaps(refund_tx_id);

		CREATE TABLE IF NOT EXISTS receive_swaps (
			id TEXT PRIMARY KEY,
			preimage TEXT NOT NULL,
			create_response_blob BLOB NOT NULL,
			invoice TEXT NOT NULL,
			payer_amount_sat INTEGER NOT NULL,
			receiver_amount_sat INTEGER NOT NULL,
			claim_fees_sat INTEGER NOT NULL,
			claim_tx_id TEXT,
			state TEXT NOT NULL DEFAULT 'created',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_receive_swaps_state ON receive_swaps(state);
		CREATE INDEX IF NOT EXISTS idx_receive_swaps_claim_tx ON receive_swaps(claim_tx_id);

		CREATE TABLE IF NOT EXISTS payment_tx_data (
			tx_id TEXT PRIMARY KEY,
			timestamp INTEGER,
			amount_sat INTEGER NOT NULL,
			payment_type TEXT NOT NULL,
			is_confirmed INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_payment_tx_data_confirmed ON payment_tx_data(is_confirmed);
		`,
	},
}

// runMigrations applies every migration not yet recorded in
// schema_migrations, in order, each inside its own transaction.
func (s *Store) runMigrations() error {
	// The journal table itself must exist before we can query it; the
	// first migration creates it, so we special-case bootstrap.
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("walletdb: bootstrap migrations journal: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("walletdb: read migrations journal: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("walletdb: scan migrations journal: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("walletdb: begin migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("walletdb: apply migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, strftime('%s','now'))`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("walletdb: record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("walletdb: commit migration %d: %w", m.version, err)
		}

		s.log.Debug("applied migration", "version", m.version)
	}

	return nil
}
