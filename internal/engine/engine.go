// Package engine is the SwapEngine (spec.md §4.F): prepare/commit/execute
// send and receive swaps, drive each swap's state machine, coordinate
// cooperative and unilateral claim/refund, and reconcile on-chain
// confirmations with swap state. Grounded on the teacher's
// swap/coordinator.go mutex-guarded map-of-active-swaps plus
// event-emission pattern.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/internal/events"
	"github.com/klingon-exchange/bridgewallet/internal/walletdb"
	"github.com/klingon-exchange/bridgewallet/pkg/logging"
)

// Engine is the swap lifecycle engine. It exclusively owns the
// WalletBackend handle behind walletMu (spec.md §3 Ownership); no other
// component may build or sign transactions.
type Engine struct {
	walletMu sync.Mutex
	wallet   WalletBackend

	chain   ChainClient
	swapper SwapperClient
	store   *walletdb.Store
	events  *events.Manager

	network config.Network
	log     *logging.Logger
}

// Config bundles an Engine's collaborators.
type Config struct {
	Wallet  WalletBackend
	Chain   ChainClient
	Swapper SwapperClient
	Store   *walletdb.Store
	Events  *events.Manager
	Network config.Network
}

// New builds an Engine from its collaborators.
func New(cfg Config) *Engine {
	return &Engine{
		wallet:  cfg.Wallet,
		chain:   cfg.Chain,
		swapper: cfg.Swapper,
		store:   cfg.Store,
		events:  cfg.Events,
		network: cfg.Network,
		log:     logging.GetDefault().Component("engine"),
	}
}

// withWallet runs fn with the WalletBackend handle held. Holding times
// must not span network round-trips beyond build/sign/finalize
// themselves (spec.md §5).
func (e *Engine) withWallet(fn func(w WalletBackend) error) error {
	e.walletMu.Lock()
	defer e.walletMu.Unlock()
	return fn(e.wallet)
}

// swapKeyPair returns the swap keypair held by the WalletBackend
// (spec.md §9: derivation_index 0 for every swap).
func (e *Engine) swapKeyPair(ctx context.Context) (*btcec.PrivateKey, error) {
	var key *btcec.PrivateKey
	err := e.withWallet(func(w WalletBackend) error {
		k, err := w.SwapKeyPair(ctx)
		if err != nil {
			return err
		}
		key = k
		return nil
	})
	return key, err
}

// ListOngoingSwapIDs returns the ids of every Created/Pending send and
// receive swap, split by kind, for StatusStream's start-up subscription
// pass (spec.md §4.E).
func (e *Engine) ListOngoingSwapIDs() (sendIDs, receiveIDs []string, err error) {
	sends, err := e.store.ListOngoingSendSwaps()
	if err != nil {
		return nil, nil, err
	}
	receives, err := e.store.ListOngoingReceiveSwaps()
	if err != nil {
		return nil, nil, err
	}

	for _, s := range sends {
		sendIDs = append(sendIDs, s.ID)
	}
	for _, r := range receives {
		receiveIDs = append(receiveIDs, r.ID)
	}
	return sendIDs, receiveIDs, nil
}

// GetInfo returns the wallet's balance snapshot (façade get_info).
func (e *Engine) GetInfo(ctx context.Context, withScan bool) (*Info, error) {
	if withScan {
		if err := e.SyncPaymentsWithChainData(ctx, true); err != nil {
			return nil, err
		}
	}

	swapKey, err := e.swapKeyPair(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerError, err)
	}

	payments, err := e.store.GetPayments()
	if err != nil {
		return nil, err
	}

	var balance uint64
	var pendingSend, pendingReceive uint64
	for _, p := range payments {
		switch {
		case p.PaymentType == walletdb.PaymentTypeReceive && p.Status == walletdb.StateComplete:
			balance += p.AmountSat
		case p.PaymentType == walletdb.PaymentTypeSend && p.Status == walletdb.StateComplete:
			balance -= p.AmountSat
		case p.PaymentType == walletdb.PaymentTypeSend && p.Status == walletdb.StatePending:
			pendingSend += p.AmountSat
		case p.PaymentType == walletdb.PaymentTypeReceive && p.Status == walletdb.StatePending:
			pendingReceive += p.AmountSat
		}
	}

	return &Info{
		BalanceSat:        balance,
		PendingSendSat:    pendingSend,
		PendingReceiveSat: pendingReceive,
		Pubkey:            fmt.Sprintf("%x", swapKey.PubKey().SerializeCompressed()),
	}, nil
}

// Info is the façade get_info result (spec.md §6).
type Info struct {
	BalanceSat        uint64
	PendingSendSat    uint64
	PendingReceiveSat uint64
	Pubkey            string
}

// ListPayments returns the derived payment view, ordered by timestamp
// ascending (spec.md §6, §8 payment ordering invariant — enforced inside
// walletdb.GetPayments).
func (e *Engine) ListPayments() ([]*walletdb.Payment, error) {
	return e.store.GetPayments()
}

// EmptyWalletCache wipes and recreates the wallet backend's enc_cache
// directory (spec.md §6).
func (e *Engine) EmptyWalletCache(ctx context.Context) error {
	return e.withWallet(func(w WalletBackend) error {
		return w.EmptyCache(ctx)
	})
}

// Backup copies the Persister DB file to path.
func (e *Engine) Backup(path string) error {
	return e.store.Backup(path)
}

// Restore replaces the Persister DB file with the one at path.
func (e *Engine) Restore(path string) error {
	return e.store.RestoreFromBackup(path)
}
