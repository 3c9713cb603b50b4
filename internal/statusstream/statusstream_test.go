package statusstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	sendCalls    []string
	receiveCalls []string
}

func (f *fakeDispatcher) OnSendStatus(state string, id string) {
	f.sendCalls = append(f.sendCalls, state+":"+id)
}

func (f *fakeDispatcher) OnReceiveStatus(state string, id string) {
	f.receiveCalls = append(f.receiveCalls, state+":"+id)
}

func TestMarkTrackedIsIdempotent(t *testing.T) {
	m := New(func(string) string { return "" }, &fakeDispatcher{})

	assert.False(t, m.IsTracked("swap-1", KindSend))
	m.MarkTracked("swap-1", KindSend)
	m.MarkTracked("swap-1", KindSend)
	assert.True(t, m.IsTracked("swap-1", KindSend))

	m.UnmarkTracked("swap-1", KindSend)
	assert.False(t, m.IsTracked("swap-1", KindSend))
	// Unmarking twice is a no-op, not an error.
	m.UnmarkTracked("swap-1", KindSend)
}

func TestTrackedSetIsolatesKinds(t *testing.T) {
	m := New(func(string) string { return "" }, &fakeDispatcher{})

	m.MarkTracked("swap-1", KindSend)
	assert.True(t, m.IsTracked("swap-1", KindSend))
	assert.False(t, m.IsTracked("swap-1", KindReceive))
}

func TestDispatchDropsUntrackedSwap(t *testing.T) {
	disp := &fakeDispatcher{}
	m := New(func(string) string { return "" }, disp)

	m.MarkTracked("swap-1", KindSend)

	m.dispatch(statusMessage{ID: "swap-1", Kind: string(KindSend), State: "invoice.set"})
	m.dispatch(statusMessage{ID: "swap-2", Kind: string(KindSend), State: "invoice.set"})

	assert.Equal(t, []string{"invoice.set:swap-1"}, disp.sendCalls)
}

func TestDispatchRoutesByKind(t *testing.T) {
	disp := &fakeDispatcher{}
	m := New(func(string) string { return "" }, disp)

	m.MarkTracked("send-1", KindSend)
	m.MarkTracked("recv-1", KindReceive)

	m.dispatch(statusMessage{ID: "send-1", Kind: string(KindSend), State: "transaction.claimed"})
	m.dispatch(statusMessage{ID: "recv-1", Kind: string(KindReceive), State: "transaction.confirmed"})

	assert.Equal(t, []string{"transaction.claimed:send-1"}, disp.sendCalls)
	assert.Equal(t, []string{"transaction.confirmed:recv-1"}, disp.receiveCalls)
}

func TestMarkTrackedSendsLiveSubscribeOnOpenConnection(t *testing.T) {
	received := make(chan subscribeRequest, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req subscribeRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			select {
			case received <- req:
			default:
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := New(func(string) string { return wsURL }, &fakeDispatcher{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, nil, nil)
	defer m.Stop()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.conn != nil
	}, time.Second, 10*time.Millisecond, "connection never established")

	// A swap tracked mid-session, after the connection is already open,
	// must be subscribed immediately rather than waiting for a reconnect.
	m.MarkTracked("live-swap", KindSend)

	select {
	case req := <-received:
		assert.Equal(t, "live-swap", req.ID)
		assert.Equal(t, "subscribe", req.Action)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live subscribe frame")
	}
}

func TestStartSeedsTrackedSetFromOngoingSnapshot(t *testing.T) {
	m := New(func(string) string { return "" }, &fakeDispatcher{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx, []string{"send-a", "send-b"}, []string{"recv-a"})
	defer m.Stop()

	assert.True(t, m.IsTracked("send-a", KindSend))
	assert.True(t, m.IsTracked("send-b", KindSend))
	assert.True(t, m.IsTracked("recv-a", KindReceive))
	assert.False(t, m.IsTracked("recv-a", KindSend))
}
