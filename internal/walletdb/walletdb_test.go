package walletdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := New(&Config{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to PaymentState
		want     bool
	}{
		{StateCreated, StateCreated, false},
		{StatePending, StateCreated, false},
		{StateCreated, StatePending, true},
		{StateCreated, StateComplete, true},
		{StatePending, StatePending, true},
		{StatePending, StateComplete, true},
		{StateComplete, StatePending, false},
		{StateFailed, StatePending, false},
		{StateComplete, StateComplete, false},
		{StateFailed, StateComplete, false},
		{StateComplete, StateFailed, true},
		{StateFailed, StateFailed, true},
		{StatePending, StateFailed, true},
	}
	for _, tc := range cases {
		got := ValidTransition(tc.from, tc.to)
		assert.Equalf(t, tc.want, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestInsertSendSwapDuplicate(t *testing.T) {
	s := newTestStore(t)
	swap := &SendSwap{
		ID:                 "swap1",
		Invoice:            "lnbc1...",
		PayerAmountSat:     10000,
		ReceiverAmountSat:  9800,
		CreateResponseBlob: []byte(`{}`),
	}
	require.NoError(t, s.InsertSendSwap(swap))
	err := s.InsertSendSwap(swap)
	assert.ErrorIs(t, err, ErrSwapExists)
}

func TestFetchSendSwapNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FetchSendSwap("nope")
	assert.ErrorIs(t, err, ErrSwapNotFound)
}

func TestTryHandleSendUpdateRejectsBadTransition(t *testing.T) {
	s := newTestStore(t)
	swap := &SendSwap{ID: "swap1", Invoice: "x", PayerAmountSat: 1, ReceiverAmountSat: 1, CreateResponseBlob: []byte(`{}`)}
	require.NoError(t, s.InsertSendSwap(swap))

	require.NoError(t, s.TryHandleSendUpdate("swap1", StatePending, nil, ptr("lockup-tx"), nil))

	got, err := s.FetchSendSwap("swap1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	require.NotNil(t, got.LockupTxID)
	assert.Equal(t, "lockup-tx", *got.LockupTxID)

	require.NoError(t, s.TryHandleSendUpdate("swap1", StateComplete, ptr("preimage-hex"), nil, nil))

	// Complete -> Pending must be rejected.
	err = s.TryHandleSendUpdate("swap1", StatePending, nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err = s.FetchSendSwap("swap1")
	require.NoError(t, err)
	assert.Equal(t, StateComplete, got.State)
}

func TestTryHandleSendUpdateIdempotentPendingToPending(t *testing.T) {
	s := newTestStore(t)
	swap := &SendSwap{ID: "swap1", Invoice: "x", PayerAmountSat: 1, ReceiverAmountSat: 1, CreateResponseBlob: []byte(`{}`)}
	require.NoError(t, s.InsertSendSwap(swap))

	require.NoError(t, s.TryHandleSendUpdate("swap1", StatePending, nil, ptr("lockup-tx"), nil))
	// Applying the same sub-phase event again is allowed (Pending -> Pending).
	require.NoError(t, s.TryHandleSendUpdate("swap1", StatePending, nil, ptr("lockup-tx"), nil))

	got, err := s.FetchSendSwap("swap1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
}

func TestListOngoingSendSwaps(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertSendSwap(&SendSwap{ID: "a", Invoice: "x", CreateResponseBlob: []byte(`{}`)}))
	require.NoError(t, s.InsertSendSwap(&SendSwap{ID: "b", Invoice: "x", CreateResponseBlob: []byte(`{}`)}))
	require.NoError(t, s.TryHandleSendUpdate("b", StateComplete, ptr("p"), ptr("l"), nil))

	ongoing, err := s.ListOngoingSendSwaps()
	require.NoError(t, err)
	require.Len(t, ongoing, 1)
	assert.Equal(t, "a", ongoing[0].ID)
}

func TestReceiveSwapLifecycle(t *testing.T) {
	s := newTestStore(t)
	swap := &ReceiveSwap{
		ID:                 "rswap1",
		Preimage:           "deadbeef",
		CreateResponseBlob: []byte(`{}`),
		Invoice:            "lnbc1...",
		PayerAmountSat:     1000,
		ReceiverAmountSat:  900,
		ClaimFeesSat:       100,
	}
	require.NoError(t, s.InsertReceiveSwap(swap))

	err := s.InsertReceiveSwap(swap)
	assert.ErrorIs(t, err, ErrSwapExists)

	require.NoError(t, s.TryHandleReceiveUpdate("rswap1", StatePending, ptr("claim-tx")))
	got, err := s.FetchReceiveSwap("rswap1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	require.NotNil(t, got.ClaimTxID)

	byClaim, err := s.ListPendingReceiveByClaimTxID()
	require.NoError(t, err)
	assert.Contains(t, byClaim, "claim-tx")
}

func TestGetPaymentsJoinsSwapByLockupTxID(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertSendSwap(&SendSwap{
		ID: "send1", Invoice: "x", PayerAmountSat: 1000, ReceiverAmountSat: 900,
		CreateResponseBlob: []byte(`{}`),
	}))
	require.NoError(t, s.TryHandleSendUpdate("send1", StatePending, nil, ptr("lockup-tx"), nil))

	require.NoError(t, s.InsertOrUpdatePaymentTxData(&PaymentTxData{
		TxID: "lockup-tx", AmountSat: 1000, PaymentType: PaymentTypeSend, IsConfirmed: false,
	}))
	require.NoError(t, s.InsertOrUpdatePaymentTxData(&PaymentTxData{
		TxID: "unrelated-tx", AmountSat: 500, PaymentType: PaymentTypeReceive, IsConfirmed: true,
	}))

	payments, err := s.GetPayments()
	require.NoError(t, err)
	require.Len(t, payments, 2)

	var lockup *Payment
	for _, p := range payments {
		if p.TxID == "lockup-tx" {
			lockup = p
		}
	}
	require.NotNil(t, lockup)
	require.NotNil(t, lockup.SwapID)
	assert.Equal(t, "send1", *lockup.SwapID)
	assert.Equal(t, StatePending, lockup.Status)
}

func TestBackupAndRestore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertSendSwap(&SendSwap{ID: "a", Invoice: "x", CreateResponseBlob: []byte(`{}`)}))

	backupPath := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, s.Backup(backupPath))

	s2 := newTestStore(t)
	require.NoError(t, s2.RestoreFromBackup(backupPath))
	// Reopen to see the restored content (sqlite connection pool may cache).
	s2.Close()

	s3, err := New(&Config{DataDir: filepath.Dir(s2.DBPath())})
	require.NoError(t, err)
	defer s3.Close()

	got, err := s3.FetchSendSwap("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
}
