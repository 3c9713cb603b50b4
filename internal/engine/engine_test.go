package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/internal/events"
	"github.com/klingon-exchange/bridgewallet/internal/walletdb"
)

// --- fake WalletBackend/ChainClient/SwapperClient -----------------------

type fakeWallet struct {
	swapKey *btcec.PrivateKey
	address string
}

func newFakeWallet(t *testing.T) *fakeWallet {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return &fakeWallet{swapKey: key, address: "lq1addr"}
}

func (f *fakeWallet) NewAddress(ctx context.Context) (string, error) { return f.address, nil }

func (f *fakeWallet) SwapKeyPair(ctx context.Context) (*btcec.PrivateKey, error) {
	return f.swapKey, nil
}

func (f *fakeWallet) BuildPSET(ctx context.Context, addr string, amountSat uint64) (*PSET, error) {
	if amountSat == 0 {
		return nil, fmt.Errorf("fakeWallet: amount must be nonzero")
	}
	return &PSET{Blob: []byte(fmt.Sprintf("pset:%s:%d", addr, amountSat))}, nil
}

func (f *fakeWallet) BuildClaimPSET(ctx context.Context, addr string, amountSat uint64, redeemScript, preimage []byte, claimKey *btcec.PrivateKey) (*PSET, error) {
	if amountSat == 0 {
		return nil, fmt.Errorf("fakeWallet: amount must be nonzero")
	}
	if len(redeemScript) == 0 {
		return nil, fmt.Errorf("fakeWallet: redeem script must be nonempty")
	}
	if len(preimage) != 32 {
		return nil, fmt.Errorf("fakeWallet: preimage must be 32 bytes")
	}
	if claimKey == nil {
		return nil, fmt.Errorf("fakeWallet: claim key must be non-nil")
	}
	blob := fmt.Sprintf("pset:claim:%s:%d:redeem=%x:preimage=%x:signed", addr, amountSat, redeemScript, preimage)
	return &PSET{Blob: []byte(blob)}, nil
}

func (f *fakeWallet) SignPSET(ctx context.Context, pset *PSET) (*PSET, error) {
	return &PSET{Blob: append(append([]byte{}, pset.Blob...), []byte(":signed")...)}, nil
}

func (f *fakeWallet) FinalizePSET(ctx context.Context, pset *PSET) (string, string, error) {
	txHex := hex.EncodeToString(pset.Blob)
	return txHex, "txid-" + txHex[:8], nil
}

func (f *fakeWallet) Balance(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeWallet) ScanHistory(ctx context.Context) ([]TxHistoryEntry, error) { return nil, nil }

func (f *fakeWallet) EmptyCache(ctx context.Context) error { return nil }

type fakeChain struct {
	broadcastTxID string
	txByID        map[string]string
	scriptHistory []TxHistoryEntry
}

func newFakeChain() *fakeChain {
	return &fakeChain{broadcastTxID: "chain-txid", txByID: make(map[string]string)}
}

func (c *fakeChain) Broadcast(ctx context.Context, txHex string) (string, error) {
	return c.broadcastTxID, nil
}

func (c *fakeChain) FetchTx(ctx context.Context, txid string) (string, error) {
	return c.txByID[txid], nil
}

func (c *fakeChain) FetchScriptHistory(ctx context.Context, scriptOrAddr string) ([]TxHistoryEntry, error) {
	return c.scriptHistory, nil
}

func (c *fakeChain) ChainTip(ctx context.Context) (uint32, error) { return 100, nil }

type fakeSwapper struct {
	pairs           *PairsInfo
	submarineResp   *SubmarineSwapResponse
	claimDetails    *ClaimTxDetails
	postClaimCalled bool
	postRefundSig   *musig2.PartialSignature
	postRefundErr   error
}

func (s *fakeSwapper) GetPairs(ctx context.Context) (*PairsInfo, error) { return s.pairs, nil }

func (s *fakeSwapper) CreateSubmarineSwap(ctx context.Context, invoice string, refundPubKey *btcec.PublicKey) (*SubmarineSwapResponse, error) {
	return s.submarineResp, nil
}

func (s *fakeSwapper) CreateReverseSwap(ctx context.Context, preimageHash [32]byte, payerAmountSat uint64, claimPubKey *btcec.PublicKey) (*ReverseSwapResponse, error) {
	return nil, fmt.Errorf("fakeSwapper: CreateReverseSwap not configured")
}

func (s *fakeSwapper) GetClaimTxDetails(ctx context.Context, swapID string) (*ClaimTxDetails, error) {
	return s.claimDetails, nil
}

func (s *fakeSwapper) PostClaim(ctx context.Context, swapID string, partialSig *musig2.PartialSignature, pubNonce [musig2.PubNonceSize]byte) error {
	s.postClaimCalled = true
	return nil
}

func (s *fakeSwapper) PostRefund(ctx context.Context, swapID string, pubNonce [musig2.PubNonceSize]byte) (*musig2.PartialSignature, error) {
	return s.postRefundSig, s.postRefundErr
}

func (s *fakeSwapper) StatusWSURL(swapID string) string { return "" }

// fakeSwapperWithReverse overrides CreateReverseSwap to build a reverse-swap
// response keyed to whatever preimage hash the engine supplies, mirroring
// what a real swapper only learns at request time.
type fakeSwapperWithReverse struct {
	*fakeSwapper
	swapperKey *btcec.PrivateKey
	onCreate   func(hash [32]byte)
}

func (s *fakeSwapperWithReverse) CreateReverseSwap(ctx context.Context, preimageHash [32]byte, payerAmountSat uint64, claimPubKey *btcec.PublicKey) (*ReverseSwapResponse, error) {
	if s.onCreate != nil {
		s.onCreate(preimageHash)
	}

	payKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	inv, err := zpay32.NewInvoice(&chaincfg.TestNet3Params, preimageHash, time.Unix(1700000000, 0),
		zpay32.Amount(lnwire.MilliSatoshi(payerAmountSat*1000)),
		zpay32.Description("bridgewallet reverse test invoice"),
	)
	if err != nil {
		return nil, err
	}
	encoded, err := inv.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) { return ecdsa.SignCompact(payKey, msg, true), nil },
	})
	if err != nil {
		return nil, err
	}

	onchainAmountSat := payerAmountSat - 100
	rawBlob, err := json.Marshal(reverseBlobFields{
		LockupAddress:      "lq1revlockup",
		OnchainAmountSat:   onchainAmountSat,
		TimeoutBlockHeight: 200,
		RedeemScript:       hex.EncodeToString([]byte("redeem-script")),
		SwapperPubKey:      hex.EncodeToString(s.swapperKey.PubKey().SerializeCompressed()),
	})
	if err != nil {
		return nil, err
	}

	return &ReverseSwapResponse{
		ID:               "receive-swap-1",
		Invoice:          encoded,
		LockupAddress:    "lq1revlockup",
		OnchainAmountSat: onchainAmountSat,
		RawBlob:          rawBlob,
	}, nil
}

// --- helpers -------------------------------------------------------------

func newTestEngine(t *testing.T, wallet WalletBackend, chain ChainClient, swapper SwapperClient) (*Engine, *walletdb.Store) {
	t.Helper()
	store, err := walletdb.New(&walletdb.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := New(Config{
		Wallet:  wallet,
		Chain:   chain,
		Swapper: swapper,
		Store:   store,
		Events:  events.New(),
		Network: config.Testnet,
	})
	return e, store
}

// peerNonce simulates the swapper's side of a MuSig2 nonce exchange: a
// fresh session keyed to swapperKey, sharing the deterministic signer
// ordering signMusigPartial derives via sortedSigners.
func peerNonce(t *testing.T, ourPub *btcec.PublicKey, swapperKey *btcec.PrivateKey) [musig2.PubNonceSize]byte {
	t.Helper()
	signers := sortedSigners(ourPub, swapperKey.PubKey())
	ctx, err := musig2.NewContext(swapperKey, false, musig2.WithKnownSigners(signers))
	require.NoError(t, err)
	session, err := ctx.NewSession()
	require.NoError(t, err)
	return session.PublicNonce()
}

func makeInvoice(t *testing.T, preimage [32]byte, amountSat uint64, expiry time.Duration) string {
	t.Helper()
	hash := sha256.Sum256(preimage[:])

	payKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	inv, err := zpay32.NewInvoice(&chaincfg.TestNet3Params, hash, time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amountSat*1000)),
		zpay32.Description("bridgewallet test invoice"),
		zpay32.Expiry(expiry),
	)
	require.NoError(t, err)

	encoded, err := inv.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) { return ecdsa.SignCompact(payKey, msg, true), nil },
	})
	require.NoError(t, err)
	return encoded
}

func submarineBlob(t *testing.T, addr string, expectedAmountSat uint64, swapperPub *btcec.PublicKey) []byte {
	t.Helper()
	b, err := json.Marshal(submarineBlobFields{
		Address:            addr,
		ExpectedAmountSat:  expectedAmountSat,
		TimeoutBlockHeight: 200,
		RedeemScript:       hex.EncodeToString([]byte("redeem-script")),
		SwapperPubKey:      hex.EncodeToString(swapperPub.SerializeCompressed()),
	})
	require.NoError(t, err)
	return b
}

func ptrStr(s string) *string { return &s }

// --- tests -----------------------------------------------------------------

func TestPrepareReceiveBelowFeeFloor(t *testing.T) {
	wallet := newFakeWallet(t)
	e, _ := newTestEngine(t, wallet, newFakeChain(), &fakeSwapper{
		pairs: &PairsInfo{MinSat: 100, MaxSat: 1_000_000, ReverseFeeRate: 0.01, MinerFeeSat: 300, QuotedAt: 1},
	})

	_, err := e.PrepareReceive(context.Background(), 100)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestPrepareSendAmountOutOfRange(t *testing.T) {
	wallet := newFakeWallet(t)
	var preimage [32]byte
	preimage[0] = 1
	invoice := makeInvoice(t, preimage, 10, time.Hour)

	e, _ := newTestEngine(t, wallet, newFakeChain(), &fakeSwapper{
		pairs: &PairsInfo{MinSat: 1000, MaxSat: 1_000_000, SubmarineFeeRate: 0.01, MinerFeeSat: 100, QuotedAt: 1},
	})

	_, err := e.PrepareSend(context.Background(), invoice)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestSendHappyPathCooperativeClaim(t *testing.T) {
	wallet := newFakeWallet(t)
	chain := newFakeChain()

	var preimage [32]byte
	preimage[0] = 0x42
	amountSat := uint64(10_000)
	invoice := makeInvoice(t, preimage, amountSat, time.Hour)

	swapperKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	pairs := &PairsInfo{MinSat: 1000, MaxSat: 1_000_000, SubmarineFeeRate: 0.01, MinerFeeSat: 100, QuotedAt: 1}
	expectedAmountSat := amountSat + estimateSubmarineFees(amountSat, pairs)

	swapper := &fakeSwapper{
		pairs: pairs,
		submarineResp: &SubmarineSwapResponse{
			ID:                "send-swap-1",
			Address:           "lq1lockup",
			ExpectedAmountSat: expectedAmountSat,
			RawBlob:           submarineBlob(t, "lq1lockup", expectedAmountSat, swapperKey.PubKey()),
		},
	}

	e, store := newTestEngine(t, wallet, chain, swapper)

	prepared, err := e.PrepareSend(context.Background(), invoice)
	require.NoError(t, err)
	assert.Greater(t, prepared.FeesSat, uint64(0))

	nonce := peerNonce(t, wallet.swapKey.PubKey(), swapperKey)
	swapper.claimDetails = &ClaimTxDetails{Preimage: preimage[:], PubNonce: nonce, TransactionHash: [32]byte{7}}

	txid, _, err := e.Send(context.Background(), prepared)
	require.NoError(t, err)
	assert.NotEmpty(t, txid)
	assert.True(t, swapper.postClaimCalled)

	swap, err := store.FetchSendSwap("send-swap-1")
	require.NoError(t, err)
	assert.Equal(t, walletdb.StateComplete, swap.State)
	require.NotNil(t, swap.Preimage)
	assert.Equal(t, hex.EncodeToString(preimage[:]), *swap.Preimage)
}

func TestSendInvalidPreimageRejected(t *testing.T) {
	wallet := newFakeWallet(t)
	chain := newFakeChain()

	var preimage [32]byte
	preimage[0] = 0x11
	amountSat := uint64(10_000)
	invoice := makeInvoice(t, preimage, amountSat, time.Hour)

	swapperKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	pairs := &PairsInfo{MinSat: 1000, MaxSat: 1_000_000, SubmarineFeeRate: 0.01, MinerFeeSat: 100, QuotedAt: 1}
	expectedAmountSat := amountSat + estimateSubmarineFees(amountSat, pairs)

	swapper := &fakeSwapper{
		pairs: pairs,
		submarineResp: &SubmarineSwapResponse{
			ID:                "send-swap-2",
			Address:           "lq1lockup",
			ExpectedAmountSat: expectedAmountSat,
			RawBlob:           submarineBlob(t, "lq1lockup", expectedAmountSat, swapperKey.PubKey()),
		},
	}

	e, store := newTestEngine(t, wallet, chain, swapper)

	prepared, err := e.PrepareSend(context.Background(), invoice)
	require.NoError(t, err)

	// Swapper offers a preimage that doesn't hash to the invoice's
	// payment hash.
	var wrongPreimage [32]byte
	wrongPreimage[0] = 0xFF
	nonce := peerNonce(t, wallet.swapKey.PubKey(), swapperKey)
	swapper.claimDetails = &ClaimTxDetails{Preimage: wrongPreimage[:], PubNonce: nonce, TransactionHash: [32]byte{1}}

	// lockupSend still succeeds and broadcasts the lockup; the
	// cooperative claim attempt fails internally and is only logged, so
	// Send returns the lockup txid rather than propagating the claim
	// error synchronously.
	txid, _, err := e.Send(context.Background(), prepared)
	require.NoError(t, err)
	assert.NotEmpty(t, txid)
	assert.False(t, swapper.postClaimCalled)

	swap, err := store.FetchSendSwap("send-swap-2")
	require.NoError(t, err)
	assert.NotEqual(t, walletdb.StateComplete, swap.State)
	assert.Nil(t, swap.Preimage)
}

func TestReceiveHappyPath(t *testing.T) {
	wallet := newFakeWallet(t)
	chain := newFakeChain()

	swapperKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var capturedHash [32]byte
	swapper := &fakeSwapperWithReverse{
		fakeSwapper: &fakeSwapper{pairs: &PairsInfo{MinSat: 1000, MaxSat: 1_000_000, ReverseFeeRate: 0.01, MinerFeeSat: 100, QuotedAt: 1}},
		swapperKey:  swapperKey,
		onCreate:    func(hash [32]byte) { capturedHash = hash },
	}

	e, store := newTestEngine(t, wallet, chain, swapper)

	payerAmountSat := uint64(50_000)
	prepared, err := e.PrepareReceive(context.Background(), payerAmountSat)
	require.NoError(t, err)

	res, err := e.Receive(context.Background(), prepared)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Invoice)
	assert.Equal(t, "receive-swap-1", res.ID)

	swap, err := store.FetchReceiveSwap(res.ID)
	require.NoError(t, err)
	assert.Equal(t, walletdb.StateCreated, swap.State)

	preimageBytes, err := hex.DecodeString(swap.Preimage)
	require.NoError(t, err)
	assert.Equal(t, capturedHash, sha256.Sum256(preimageBytes))
}

func TestOnSendStatusSwapExpiredTriggersRefund(t *testing.T) {
	wallet := newFakeWallet(t)
	chain := newFakeChain()

	swapperKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	swapper := &fakeSwapper{pairs: &PairsInfo{MinSat: 1000, MaxSat: 1_000_000}, postRefundErr: fmt.Errorf("declined")}
	e, store := newTestEngine(t, wallet, chain, swapper)

	var preimage [32]byte
	preimage[0] = 9
	swap := &walletdb.SendSwap{
		ID:                 "send-swap-expire",
		Invoice:            makeInvoice(t, preimage, 10_000, time.Hour),
		PayerAmountSat:     10_100,
		ReceiverAmountSat:  10_000,
		CreateResponseBlob: submarineBlob(t, "lq1lockup", 10_100, swapperKey.PubKey()),
	}
	require.NoError(t, store.InsertSendSwap(swap))
	require.NoError(t, store.TryHandleSendUpdate(swap.ID, walletdb.StatePending, nil, ptrStr("lockup-tx"), nil))

	e.OnSendStatus("swap.expired", swap.ID)

	got, err := store.FetchSendSwap(swap.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RefundTxID)
	assert.Equal(t, walletdb.StatePending, got.State)
}

func TestGetInfoIncludesPubkey(t *testing.T) {
	wallet := newFakeWallet(t)
	e, _ := newTestEngine(t, wallet, newFakeChain(), &fakeSwapper{pairs: &PairsInfo{MinSat: 1000, MaxSat: 1_000_000}})

	info, err := e.GetInfo(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(wallet.swapKey.PubKey().SerializeCompressed()), info.Pubkey)
}

func TestReceiveClaimBroadcastsReceiverAmount(t *testing.T) {
	wallet := newFakeWallet(t)
	chain := newFakeChain()

	swapperKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	swapper := &fakeSwapper{pairs: &PairsInfo{MinSat: 1000, MaxSat: 1_000_000}}
	e, store := newTestEngine(t, wallet, chain, swapper)

	var preimage [32]byte
	preimage[0] = 0x55
	rawBlob, err := json.Marshal(reverseBlobFields{
		LockupAddress:      "lq1revlockup",
		OnchainAmountSat:   9_900,
		TimeoutBlockHeight: 200,
		RedeemScript:       hex.EncodeToString([]byte("redeem-script")),
		SwapperPubKey:      hex.EncodeToString(swapperKey.PubKey().SerializeCompressed()),
	})
	require.NoError(t, err)

	swap := &walletdb.ReceiveSwap{
		ID:                 "receive-swap-claim",
		Preimage:           hex.EncodeToString(preimage[:]),
		CreateResponseBlob: rawBlob,
		Invoice:            makeInvoice(t, preimage, 9_900, time.Hour),
		PayerAmountSat:     10_000,
		ReceiverAmountSat:  9_900,
		ClaimFeesSat:       100,
	}
	require.NoError(t, store.InsertReceiveSwap(swap))

	require.NoError(t, e.receiveClaim(context.Background(), swap.ID))

	got, err := store.FetchReceiveSwap(swap.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClaimTxID)

	payments, err := store.GetPayments()
	require.NoError(t, err)
	var found bool
	for _, p := range payments {
		if p.TxID == *got.ClaimTxID {
			found = true
			assert.Equal(t, uint64(9_900), p.AmountSat)
		}
	}
	assert.True(t, found, "expected a payment row for the claim tx")
}

func TestRecoverFundsDerivesAmountFromChainHistory(t *testing.T) {
	wallet := newFakeWallet(t)
	chain := newFakeChain()
	chain.scriptHistory = []TxHistoryEntry{{TxID: "funding-tx", NetAmount: 12_345, Confirmed: true}}

	swapper := &fakeSwapper{pairs: &PairsInfo{MinSat: 1000, MaxSat: 1_000_000}}
	e, _ := newTestEngine(t, wallet, chain, swapper)

	claimKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var preimage [32]byte
	preimage[0] = 0x99

	txid, err := e.RecoverFunds(context.Background(), RecoveryData{
		SwapID:       "recover-1",
		RedeemScript: []byte("redeem-script"),
		PreimageHex:  hex.EncodeToString(preimage[:]),
		PrivateKey:   claimKey,
		ClaimAddress: "lq1recoveraddr",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, txid)
}

func TestRecoverFundsNoFundingHistoryFails(t *testing.T) {
	wallet := newFakeWallet(t)
	chain := newFakeChain()

	swapper := &fakeSwapper{pairs: &PairsInfo{MinSat: 1000, MaxSat: 1_000_000}}
	e, _ := newTestEngine(t, wallet, chain, swapper)

	claimKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var preimage [32]byte
	preimage[0] = 0x99

	_, err = e.RecoverFunds(context.Background(), RecoveryData{
		SwapID:       "recover-2",
		RedeemScript: []byte("redeem-script"),
		PreimageHex:  hex.EncodeToString(preimage[:]),
		PrivateKey:   claimKey,
		ClaimAddress: "lq1recoveraddr",
	})
	require.Error(t, err)
}

func TestRecoverUnilateralClaimFromWitness(t *testing.T) {
	wallet := newFakeWallet(t)
	chain := newFakeChain()

	swapperKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	swapper := &fakeSwapper{pairs: &PairsInfo{MinSat: 1000, MaxSat: 1_000_000}}
	e, store := newTestEngine(t, wallet, chain, swapper)

	var preimage [32]byte
	preimage[0] = 0x77
	swap := &walletdb.SendSwap{
		ID:                 "send-swap-unilateral",
		Invoice:            makeInvoice(t, preimage, 10_000, time.Hour),
		PayerAmountSat:     10_100,
		ReceiverAmountSat:  10_000,
		CreateResponseBlob: submarineBlob(t, "lq1lockup", 10_100, swapperKey.PubKey()),
	}
	require.NoError(t, store.InsertSendSwap(swap))
	require.NoError(t, store.TryHandleSendUpdate(swap.ID, walletdb.StatePending, nil, ptrStr("lockup-tx"), nil))

	claimTx := wire.NewMsgTx(2)
	txIn := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	txIn.Witness = wire.TxWitness{preimage[:], []byte("sig")}
	claimTx.AddTxIn(txIn)

	var buf bytes.Buffer
	require.NoError(t, claimTx.Serialize(&buf))
	claimTxHex := hex.EncodeToString(buf.Bytes())

	chain.scriptHistory = []TxHistoryEntry{{TxID: "claim-tx-id"}}
	chain.txByID["claim-tx-id"] = claimTxHex

	require.NoError(t, e.recoverUnilateralClaim(context.Background(), swap.ID))

	got, err := store.FetchSendSwap(swap.ID)
	require.NoError(t, err)
	assert.Equal(t, walletdb.StateComplete, got.State)
	require.NotNil(t, got.Preimage)
	assert.Equal(t, hex.EncodeToString(preimage[:]), *got.Preimage)
}
