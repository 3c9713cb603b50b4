package engine

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
)

// WalletBackend is the opaque Liquid watch-only wallet and transaction
// builder (spec.md §2, component B). The engine is the only caller and
// always holds it behind a mutex (spec.md §5).
type WalletBackend interface {
	// NewAddress returns a fresh unused confidential receiving address.
	NewAddress(ctx context.Context) (string, error)

	// SwapKeyPair returns the keypair used for a swap's MuSig2 session.
	// Per spec.md §9 open question, derivation_index 0 is used for every
	// swap; per-swap derivation is a planned extension, not implemented.
	SwapKeyPair(ctx context.Context) (*btcec.PrivateKey, error)

	// BuildPSET constructs an unsigned PSET paying amountSat to addr.
	BuildPSET(ctx context.Context, addr string, amountSat uint64) (*PSET, error)

	// BuildClaimPSET constructs and signs a script-path claim/refund PSET
	// paying amountSat to addr using externally supplied key material
	// (redeemScript, preimage, claimKey) rather than a wallet-owned input,
	// for standalone recovery flows where the signing key did not come
	// from this wallet's own derivation (spec.md §9 supplemented feature).
	BuildClaimPSET(ctx context.Context, addr string, amountSat uint64, redeemScript, preimage []byte, claimKey *btcec.PrivateKey) (*PSET, error)

	// SignPSET signs every input owned by this wallet.
	SignPSET(ctx context.Context, pset *PSET) (*PSET, error)

	// FinalizePSET extracts a broadcastable transaction from a fully
	// signed PSET.
	FinalizePSET(ctx context.Context, pset *PSET) (txHex string, txid string, err error)

	// Balance returns the confirmed wallet balance in satoshi.
	Balance(ctx context.Context) (uint64, error)

	// ScanHistory returns every transaction touching the wallet's
	// descriptor, used by chain reconciliation (spec.md §4.F.6).
	ScanHistory(ctx context.Context) ([]TxHistoryEntry, error)

	// EmptyCache wipes and recreates the enc_cache directory (spec.md §6).
	EmptyCache(ctx context.Context) error
}

// PSET is an opaque partially signed Elements transaction handle. The
// engine never inspects its internals; it only threads it through
// Build/Sign/Finalize.
type PSET struct {
	Blob []byte
}

// TxHistoryEntry is one row of a WalletBackend descriptor scan.
type TxHistoryEntry struct {
	TxID        string
	NetAmount   int64 // positive: funds received, negative: funds sent
	Confirmed   bool
	BlockHeight uint32
}

// ChainClient is the Electrum-backed chain indexer client (spec.md §2,
// component C).
type ChainClient interface {
	// Broadcast submits a raw transaction and returns its txid.
	Broadcast(ctx context.Context, txHex string) (txid string, err error)

	// FetchTx returns the raw hex of a previously broadcast transaction.
	FetchTx(ctx context.Context, txid string) (txHex string, err error)

	// FetchScriptHistory returns the transaction history of a script or
	// address, most recent first, used to scrape a unilateral claim tx
	// witness (spec.md §4.F.1 event 3).
	FetchScriptHistory(ctx context.Context, scriptOrAddr string) ([]TxHistoryEntry, error)

	// ChainTip reports the current best block height.
	ChainTip(ctx context.Context) (height uint32, err error)
}

// SwapperClient is the REST/WS client to the third-party swap service
// (spec.md §2, component D).
type SwapperClient interface {
	// GetPairs returns the swapper's currently quoted send/receive limits
	// and fee rates.
	GetPairs(ctx context.Context) (*PairsInfo, error)

	// CreateSubmarineSwap starts a send ("submarine") swap for invoice.
	CreateSubmarineSwap(ctx context.Context, invoice string, refundPubKey *btcec.PublicKey) (*SubmarineSwapResponse, error)

	// CreateReverseSwap starts a receive ("reverse submarine") swap for
	// preimageHash, requesting a HODL invoice for payerAmountSat.
	CreateReverseSwap(ctx context.Context, preimageHash [32]byte, payerAmountSat uint64, claimPubKey *btcec.PublicKey) (*ReverseSwapResponse, error)

	// GetClaimTxDetails fetches the swapper's cooperative claim offer for
	// a send swap (spec.md §4.F.3).
	GetClaimTxDetails(ctx context.Context, swapID string) (*ClaimTxDetails, error)

	// PostClaim posts our partial signature completing a cooperative
	// claim.
	PostClaim(ctx context.Context, swapID string, partialSig *musig2.PartialSignature, pubNonce [musig2.PubNonceSize]byte) error

	// PostRefund requests a cooperative refund co-signature; returns the
	// swapper's partial signature, or an error if they decline (engine
	// falls back to the unilateral script-path refund).
	PostRefund(ctx context.Context, swapID string, pubNonce [musig2.PubNonceSize]byte) (*musig2.PartialSignature, error)

	// StatusWSURL returns the websocket URL statusstream should dial to
	// subscribe to swapID's status feed.
	StatusWSURL(swapID string) string
}

// PairsInfo is the swapper's quoted limits and fees for the supported
// pair, used by prepare_send/prepare_receive (spec.md §6).
type PairsInfo struct {
	MinSat           uint64
	MaxSat           uint64
	SubmarineFeeRate float64
	ReverseFeeRate   float64
	MinerFeeSat      uint64
	QuotedAt         int64
}

// SubmarineSwapResponse is the swapper's handshake response to a send
// swap creation request.
type SubmarineSwapResponse struct {
	ID                 string
	Address            string // confidential lockup address
	ExpectedAmountSat  uint64
	TimeoutBlockHeight uint32
	RedeemScript       []byte
	SwapperPubKey      *btcec.PublicKey
	RawBlob            []byte // opaque, persisted verbatim (spec.md §9)
}

// ReverseSwapResponse is the swapper's handshake response to a receive
// swap creation request.
type ReverseSwapResponse struct {
	ID                 string
	Invoice            string // HODL invoice
	LockupAddress      string
	OnchainAmountSat   uint64
	TimeoutBlockHeight uint32
	RedeemScript       []byte
	SwapperPubKey      *btcec.PublicKey
	RawBlob            []byte
}

// ClaimTxDetails is the swapper's offer to complete a cooperative send
// claim (spec.md §4.F.3).
type ClaimTxDetails struct {
	Preimage        []byte
	PubNonce        [musig2.PubNonceSize]byte
	TransactionHash [32]byte
}
