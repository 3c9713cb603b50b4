package chainclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/bridgewallet/pkg/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{baseURL: srv.URL, http: srv.Client(), log: logging.GetDefault().Component("chainclient")}, srv
}

func TestBroadcastReturnsTxID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tx", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"txid":"deadbeef"}`))
	})

	txid, err := c.Broadcast(t.Context(), "0200000001...")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", txid)
}

func TestBroadcastPropagatesServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("non-canonical tx"))
	})

	_, err := c.Broadcast(t.Context(), "bad-hex")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-canonical tx")
}

func TestFetchTxReturnsHex(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tx/abc123/hex", r.URL.Path)
		w.Write([]byte(`{"hex":"0100000000"}`))
	})

	hex, err := c.FetchTx(t.Context(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "0100000000", hex)
}

func TestFetchScriptHistoryMapsEntries(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/address/ex1q.../txs", r.URL.Path)
		w.Write([]byte(`[
			{"txid":"t1","net_amount_sat":1000,"confirmed":true,"block_height":100},
			{"txid":"t2","net_amount_sat":-500,"confirmed":false,"block_height":0}
		]`))
	})

	entries, err := c.FetchScriptHistory(t.Context(), "ex1q...")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "t1", entries[0].TxID)
	assert.Equal(t, int64(1000), entries[0].NetAmount)
	assert.True(t, entries[0].Confirmed)
	assert.False(t, entries[1].Confirmed)
}

func TestChainTipReturnsHeight(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/blocks/tip/height", r.URL.Path)
		w.Write([]byte(`{"height":123456}`))
	})

	height, err := c.ChainTip(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint32(123456), height)
}
