package bridgewallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/internal/events"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestConnectRejectsInvalidMnemonic(t *testing.T) {
	_, err := Connect("not a real mnemonic", t.TempDir(), config.Testnet)
	require.Error(t, err)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindGeneric, fe.Kind)
}

func TestConnectDisconnectRoundTrip(t *testing.T) {
	w, err := Connect(testMnemonic, t.TempDir(), config.Testnet)
	require.NoError(t, err)
	require.NotNil(t, w)

	require.NoError(t, w.Disconnect())
}

func TestSendWithoutPrepareIsRejected(t *testing.T) {
	w, err := Connect(testMnemonic, t.TempDir(), config.Testnet)
	require.NoError(t, err)
	defer w.Disconnect()

	_, err = w.Send(t.Context(), nil)
	require.Error(t, err)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindGeneric, fe.Kind)
}

func TestReceiveWithoutPrepareIsRejected(t *testing.T) {
	w, err := Connect(testMnemonic, t.TempDir(), config.Testnet)
	require.NoError(t, err)
	defer w.Disconnect()

	_, err = w.Receive(t.Context(), nil)
	require.Error(t, err)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindGeneric, fe.Kind)
}

func TestListPaymentsEmptyWalletReturnsNoRows(t *testing.T) {
	w, err := Connect(testMnemonic, t.TempDir(), config.Testnet)
	require.NoError(t, err)
	defer w.Disconnect()

	payments, err := w.ListPayments()
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestAddAndRemoveEventListener(t *testing.T) {
	w, err := Connect(testMnemonic, t.TempDir(), config.Testnet)
	require.NoError(t, err)
	defer w.Disconnect()

	called := false
	id := w.AddEventListener(func(e events.Event) { called = true })
	w.RemoveEventListener(id)

	w.events.Notify(events.Event{Kind: events.KindSynced})
	assert.False(t, called)
}
