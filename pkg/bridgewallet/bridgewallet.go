// Package bridgewallet is the public façade (spec.md §6): one function per
// operation, translating internal engine errors into the bridgewallet.Error
// taxonomy (spec.md §7) and owning the lifetime of every background task
// (StatusStream, Periodic Syncer) started at Connect and stopped at
// Disconnect.
package bridgewallet

import (
	"context"
	"fmt"

	"github.com/tyler-smith/go-bip39"

	"github.com/klingon-exchange/bridgewallet/internal/chainclient"
	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/internal/engine"
	"github.com/klingon-exchange/bridgewallet/internal/events"
	"github.com/klingon-exchange/bridgewallet/internal/statusstream"
	"github.com/klingon-exchange/bridgewallet/internal/swapperclient"
	"github.com/klingon-exchange/bridgewallet/internal/syncer"
	"github.com/klingon-exchange/bridgewallet/internal/walletbackend"
	"github.com/klingon-exchange/bridgewallet/internal/walletdb"
	"github.com/klingon-exchange/bridgewallet/pkg/logging"
)

// Wallet is the connected handle returned by Connect. Every method wraps
// the engine call with the façade error taxonomy.
type Wallet struct {
	store   *walletdb.Store
	wallet  *walletbackend.Backend
	chain   *chainclient.Client
	swapper *swapperclient.Client
	events  *events.Manager
	engine  *engine.Engine
	stream  *statusstream.Manager
	syncer  *syncer.Syncer

	cancel context.CancelFunc
	log    *logging.Logger
}

// Connect validates the mnemonic, opens the Persister, wires every
// collaborator, and starts the background StatusStream and Periodic
// Syncer tasks (spec.md §6 connect).
func Connect(mnemonic string, dataDir string, network config.Network) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, &Error{Kind: KindGeneric, Err: fmt.Errorf("bridgewallet: invalid mnemonic")}
	}
	if dataDir == "" {
		dataDir = "~/.bridgewallet"
	}

	log := logging.GetDefault().Component("bridgewallet")

	store, err := walletdb.New(&walletdb.Config{DataDir: dataDir})
	if err != nil {
		return nil, &Error{Kind: KindPersistError, Err: err}
	}

	wb, err := walletbackend.New(walletbackend.Config{Network: network, DataDir: config.ExpandPath(dataDir), Mnemonic: mnemonic})
	if err != nil {
		store.Close()
		return nil, &Error{Kind: KindGeneric, Err: err}
	}

	chain, err := chainclient.New(network)
	if err != nil {
		store.Close()
		return nil, &Error{Kind: KindGeneric, Err: err}
	}

	swapper, err := swapperclient.New(network)
	if err != nil {
		store.Close()
		return nil, &Error{Kind: KindGeneric, Err: err}
	}

	evts := events.New()

	eng := engine.New(engine.Config{
		Wallet:  wb,
		Chain:   chain,
		Swapper: swapper,
		Store:   store,
		Events:  evts,
		Network: network,
	})

	stream := statusstream.New(swapper.StatusWSURL, eng)
	sync := syncer.New(0, eng.Sync)

	w := &Wallet{
		store:   store,
		wallet:  wb,
		chain:   chain,
		swapper: swapper,
		events:  evts,
		engine:  eng,
		stream:  stream,
		syncer:  sync,
		log:     log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	sendIDs, receiveIDs, err := eng.ListOngoingSwapIDs()
	if err != nil {
		store.Close()
		cancel()
		return nil, &Error{Kind: KindPersistError, Err: err}
	}

	stream.Start(ctx, sendIDs, receiveIDs)
	sync.Start(ctx)

	log.Info("connected", "network", network, "data_dir", dataDir)
	return w, nil
}

// Disconnect stops the background tasks and closes the Persister (spec.md
// §5 disconnect contract: in-flight calls run to completion).
func (w *Wallet) Disconnect() error {
	w.cancel()
	w.stream.Stop()
	w.syncer.Stop()
	if err := w.store.Close(); err != nil {
		return &Error{Kind: KindPersistError, Err: err}
	}
	w.log.Info("disconnected")
	return nil
}

// Info is the façade get_info result (spec.md §6).
type Info struct {
	BalanceSat        uint64
	PendingSendSat    uint64
	PendingReceiveSat uint64
	Pubkey            string
}

// GetInfo returns the wallet's balance snapshot, optionally triggering a
// full chain scan first.
func (w *Wallet) GetInfo(ctx context.Context, withScan bool) (*Info, error) {
	info, err := w.engine.GetInfo(ctx, withScan)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &Info{
		BalanceSat:        info.BalanceSat,
		PendingSendSat:    info.PendingSendSat,
		PendingReceiveSat: info.PendingReceiveSat,
		Pubkey:            info.Pubkey,
	}, nil
}

// PreparedSend is the prepare_send result, handed back unchanged to Send.
type PreparedSend struct {
	Invoice string
	FeesSat uint64

	prepared *engine.PreparedSend
}

// PrepareSend quotes a send swap for invoice without creating it.
func (w *Wallet) PrepareSend(ctx context.Context, invoice string) (*PreparedSend, error) {
	p, err := w.engine.PrepareSend(ctx, invoice)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &PreparedSend{Invoice: p.Invoice, FeesSat: p.FeesSat, prepared: p}, nil
}

// Send executes a previously prepared send swap.
func (w *Wallet) Send(ctx context.Context, prepared *PreparedSend) (string, error) {
	if prepared == nil || prepared.prepared == nil {
		return "", &Error{Kind: KindGeneric, Err: fmt.Errorf("bridgewallet: prepared send is nil, call PrepareSend first")}
	}
	txid, swapID, err := w.engine.Send(ctx, prepared.prepared)
	if swapID != "" {
		w.stream.MarkTracked(swapID, statusstream.KindSend)
	}
	if err != nil {
		return "", wrapErr(err)
	}
	return txid, nil
}

// PreparedReceive is the prepare_receive result, handed back unchanged to
// Receive.
type PreparedReceive struct {
	PayerAmountSat uint64
	FeesSat        uint64

	prepared *engine.PreparedReceive
}

// PrepareReceive quotes a receive swap for payerAmountSat without creating
// it.
func (w *Wallet) PrepareReceive(ctx context.Context, payerAmountSat uint64) (*PreparedReceive, error) {
	p, err := w.engine.PrepareReceive(ctx, payerAmountSat)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &PreparedReceive{PayerAmountSat: p.PayerAmountSat, FeesSat: p.FeesSat, prepared: p}, nil
}

// ReceiveResult is the receive() façade output.
type ReceiveResult struct {
	ID      string
	Invoice string
}

// Receive creates a receive swap and starts tracking its status.
func (w *Wallet) Receive(ctx context.Context, prepared *PreparedReceive) (*ReceiveResult, error) {
	if prepared == nil || prepared.prepared == nil {
		return nil, &Error{Kind: KindGeneric, Err: fmt.Errorf("bridgewallet: prepared receive is nil, call PrepareReceive first")}
	}
	res, err := w.engine.Receive(ctx, prepared.prepared)
	if err != nil {
		return nil, wrapErr(err)
	}
	w.stream.MarkTracked(res.ID, statusstream.KindReceive)
	return &ReceiveResult{ID: res.ID, Invoice: res.Invoice}, nil
}

// ListPayments returns every payment, ordered by timestamp ascending
// (spec.md §8 payment ordering invariant).
func (w *Wallet) ListPayments() ([]*walletdb.Payment, error) {
	payments, err := w.engine.ListPayments()
	if err != nil {
		return nil, wrapErr(err)
	}
	return payments, nil
}

// Sync triggers a manual chain reconciliation pass.
func (w *Wallet) Sync(ctx context.Context) error {
	return wrapErr(w.engine.Sync(ctx))
}

// Backup copies the Persister DB file to path.
func (w *Wallet) Backup(path string) error {
	return wrapErr(w.engine.Backup(path))
}

// Restore replaces the Persister DB file with the one at path.
func (w *Wallet) Restore(path string) error {
	return wrapErr(w.engine.Restore(path))
}

// EmptyWalletCache wipes and recreates the WalletBackend's enc_cache
// directory.
func (w *Wallet) EmptyWalletCache(ctx context.Context) error {
	return wrapErr(w.engine.EmptyWalletCache(ctx))
}

// AddEventListener registers l and returns its listener id.
func (w *Wallet) AddEventListener(l events.Listener) string {
	return w.events.AddListener(l)
}

// RemoveEventListener unregisters the listener with the given id.
func (w *Wallet) RemoveEventListener(id string) {
	w.events.RemoveListener(id)
}

// RecoverFunds rebuilds and broadcasts a claim transaction from a
// standalone recovery blob, bypassing the Persister entirely (spec.md §9
// supplemented feature).
func (w *Wallet) RecoverFunds(ctx context.Context, recovery engine.RecoveryData) (string, error) {
	txid, err := w.engine.RecoverFunds(ctx, recovery)
	if err != nil {
		return "", wrapErr(err)
	}
	return txid, nil
}
