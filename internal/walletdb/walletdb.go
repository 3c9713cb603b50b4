// Package walletdb is the Persister: the durable, single-file embedded SQL
// store for swap records, payment-tx records, and the derived payment view
// (spec.md §4.A). It owns these records exclusively; every other component
// holds copies or short-lived read views.
package walletdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/pkg/logging"
)

// Store is the Persister.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	log    *logging.Logger
}

// Config configures a new Store.
type Config struct {
	DataDir string
}

// New opens (creating if necessary) the database file under cfg.DataDir and
// runs pending migrations.
func New(cfg *Config) (*Store, error) {
	dataDir := config.ExpandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("walletdb: failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "bridgewallet.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("walletdb: failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("walletdb: failed to ping database: %w", err)
	}

	// SQLite only supports a single writer; the teacher's storage package
	// applies the same pool sizing.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
		log:    logging.GetDefault().Component("walletdb"),
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("walletdb: failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the path to the database file (for backup).
func (s *Store) DBPath() string {
	return s.dbPath
}

// init runs all pending migrations idempotently.
func (s *Store) init() error {
	return s.runMigrations()
}
