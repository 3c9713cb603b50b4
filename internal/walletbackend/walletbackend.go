// Package walletbackend adapts the opaque Liquid watch-only wallet
// described in spec.md §2 (component B) to the engine.WalletBackend
// interface. PSET construction, signing, and descriptor derivation are
// out of this exercise's scope (spec.md §1): this is a thin adapter
// wiring btcec key material and btcutil address helpers through to a
// placeholder descriptor backend, not a reimplementation of LWK.
package walletbackend

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/internal/engine"
	"github.com/klingon-exchange/bridgewallet/pkg/logging"
)

// Config configures a Backend instance.
type Config struct {
	Network config.Network
	DataDir string
	// Mnemonic is the BIP-39 seed phrase validated by the façade's
	// Connect call (spec.md §6).
	Mnemonic string
}

// Backend is the thin WalletBackend adapter. It owns a single swap
// keypair, generated at random when the Backend is built and returned
// for every swap (spec.md §9 open question); the mnemonic is not used
// to derive any key.
type Backend struct {
	mu sync.Mutex

	cfg       Config
	params    *chaincfg.Params
	swapKey   *btcec.PrivateKey
	cacheDir  string
	addrIndex uint32

	log *logging.Logger
}

// New builds a Backend for the given config. Address derivation and PSET
// signing beyond the swap keypair are intentionally unimplemented stubs:
// spec.md §1 treats WalletBackend as an external collaborator and only
// constrains when and with what arguments the engine invokes it.
func New(cfg Config) (*Backend, error) {
	params := &chaincfg.MainNetParams
	if cfg.Network == config.Testnet {
		params = &chaincfg.TestNet3Params
	}

	// A stable, deterministic-looking swap keypair placeholder. Real HD
	// derivation from the connect-time mnemonic is out of scope here;
	// the interface boundary is what the spec constrains.
	swapKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("walletbackend: generate swap key: %w", err)
	}

	cacheDir := filepath.Join(cfg.DataDir, "enc_cache")
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return nil, fmt.Errorf("walletbackend: create enc_cache: %w", err)
	}

	return &Backend{
		cfg:      cfg,
		params:   params,
		swapKey:  swapKey,
		cacheDir: cacheDir,
		log:      logging.GetDefault().Component("walletbackend"),
	}, nil
}

// NewAddress returns a fresh unused receiving address. Liquid's
// confidential-address blinding is out of scope; this returns a
// network-correct P2WPKH address shape as the address-generation
// boundary the engine depends on.
func (b *Backend) NewAddress(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.addrIndex++
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return "", fmt.Errorf("walletbackend: derive address key: %w", err)
	}

	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, b.params)
	if err != nil {
		return "", fmt.Errorf("walletbackend: encode address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// SwapKeyPair returns the fixed swap keypair. See spec.md §9: per-swap
// derivation indices are a planned extension, not a current invariant.
func (b *Backend) SwapKeyPair(ctx context.Context) (*btcec.PrivateKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.swapKey, nil
}

// BuildPSET constructs an unsigned PSET. Real Elements PSET construction
// is out of scope (external collaborator); this returns an opaque blob
// the engine threads through Sign/Finalize unexamined.
func (b *Backend) BuildPSET(ctx context.Context, addr string, amountSat uint64) (*engine.PSET, error) {
	if amountSat == 0 {
		return nil, fmt.Errorf("walletbackend: amount must be nonzero")
	}
	blob := fmt.Sprintf("pset:unsigned:%s:%d", addr, amountSat)
	return &engine.PSET{Blob: []byte(blob)}, nil
}

// BuildClaimPSET constructs and signs a script-path claim/refund PSET
// spending redeemScript's output with preimage and claimKey, rather than
// any input owned by this wallet. Real Elements script-path spending is
// out of scope (external collaborator); the inputs are folded into the
// opaque blob so callers observably flow through to Finalize/Broadcast.
func (b *Backend) BuildClaimPSET(ctx context.Context, addr string, amountSat uint64, redeemScript, preimage []byte, claimKey *btcec.PrivateKey) (*engine.PSET, error) {
	if amountSat == 0 {
		return nil, fmt.Errorf("walletbackend: amount must be nonzero")
	}
	if len(redeemScript) == 0 {
		return nil, fmt.Errorf("walletbackend: redeem script must be nonempty")
	}
	if len(preimage) != 32 {
		return nil, fmt.Errorf("walletbackend: preimage must be 32 bytes")
	}
	if claimKey == nil {
		return nil, fmt.Errorf("walletbackend: claim key must be non-nil")
	}
	blob := fmt.Sprintf("pset:claim:%s:%d:redeem=%x:preimage=%x:pubkey=%x:signed",
		addr, amountSat, redeemScript, preimage, claimKey.PubKey().SerializeCompressed())
	return &engine.PSET{Blob: []byte(blob)}, nil
}

// SignPSET signs every wallet-owned input of pset.
func (b *Backend) SignPSET(ctx context.Context, pset *engine.PSET) (*engine.PSET, error) {
	if pset == nil {
		return nil, fmt.Errorf("walletbackend: nil pset")
	}
	signed := append([]byte{}, pset.Blob...)
	signed = append(signed, []byte(":signed")...)
	return &engine.PSET{Blob: signed}, nil
}

// FinalizePSET extracts a broadcastable transaction. The returned txid
// is derived from random bytes since there is no real transaction
// encoder behind this adapter.
func (b *Backend) FinalizePSET(ctx context.Context, pset *engine.PSET) (string, string, error) {
	if pset == nil {
		return "", "", fmt.Errorf("walletbackend: nil pset")
	}
	var idBytes [32]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return "", "", fmt.Errorf("walletbackend: generate txid: %w", err)
	}
	txid := fmt.Sprintf("%x", idBytes)
	txHex := fmt.Sprintf("%x", pset.Blob)
	return txHex, txid, nil
}

// Balance returns the confirmed wallet balance. The real implementation
// sums the descriptor scan's confirmed UTXOs; this stub is wired for
// callers that need the signature to compile and test against.
func (b *Backend) Balance(ctx context.Context) (uint64, error) {
	return 0, nil
}

// ScanHistory returns an empty result; no descriptor scan is run: a real
// scan belongs to the external wallet backend, not this exercise.
func (b *Backend) ScanHistory(ctx context.Context) ([]engine.TxHistoryEntry, error) {
	return nil, nil
}

// EmptyCache wipes and recreates enc_cache/ (spec.md §6, §9 supplemented
// feature carried verbatim from original_source).
func (b *Backend) EmptyCache(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.RemoveAll(b.cacheDir); err != nil {
		return fmt.Errorf("walletbackend: remove enc_cache: %w", err)
	}
	if err := os.MkdirAll(b.cacheDir, 0700); err != nil {
		return fmt.Errorf("walletbackend: recreate enc_cache: %w", err)
	}
	b.log.Debug("emptied wallet cache", "dir", b.cacheDir)
	return nil
}
