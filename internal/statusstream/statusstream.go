// Package statusstream maintains websocket subscriptions to the
// swapper's per-swap status feed (spec.md §2, component E), inverting
// the teacher's server-side WSHub into a subscribing client: one
// connection to the swapper, a tracked-set keyed by (swap_id, kind)
// guarding against duplicate subscriptions, and bounded exponential
// backoff on reconnect.
package statusstream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/pkg/logging"
)

// Kind distinguishes which swap direction a tracked subscription belongs
// to, since the same swap id space is never shared between the two.
type Kind string

const (
	KindSend    Kind = "send"
	KindReceive Kind = "receive"
)

type trackKey struct {
	id   string
	kind Kind
}

// Dispatcher receives parsed status events. The engine implements this.
type Dispatcher interface {
	OnSendStatus(state string, id string)
	OnReceiveStatus(state string, id string)
}

// Manager owns one websocket connection to the swapper and the tracked
// subscription set.
type Manager struct {
	wsURLFor func(swapID string) string

	mu      sync.Mutex
	tracked map[trackKey]bool
	conn    *websocket.Conn

	// writeMu serializes writes to conn: resubscribeAll (at connect) and
	// the live-subscribe write in MarkTracked can otherwise race, and
	// gorilla/websocket forbids concurrent writers on one connection.
	writeMu sync.Mutex

	dispatcher Dispatcher
	log        *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Manager. wsURLFor resolves a swap id to its subscription
// URL (delegated to SwapperClient.StatusWSURL).
func New(wsURLFor func(swapID string) string, dispatcher Dispatcher) *Manager {
	return &Manager{
		wsURLFor:   wsURLFor,
		tracked:    make(map[trackKey]bool),
		dispatcher: dispatcher,
		log:        logging.GetDefault().Component("statusstream"),
	}
}

// Start launches the background connection loop. ongoing is the
// list_ongoing_swaps snapshot the engine hands it at start-up (spec.md
// §4.E).
func (m *Manager) Start(parent context.Context, ongoingSend, ongoingReceive []string) {
	m.ctx, m.cancel = context.WithCancel(parent)

	for _, id := range ongoingSend {
		m.MarkTracked(id, KindSend)
	}
	for _, id := range ongoingReceive {
		m.MarkTracked(id, KindReceive)
	}

	m.wg.Add(1)
	go m.run()
}

// Stop cancels the connection loop and closes the socket (spec.md §5
// disconnect contract).
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// MarkTracked idempotently records that swap id/kind is being watched,
// whether by this stream or by the synchronous send flow tailing the
// same socket (spec.md §4.E). If a connection is already open, it also
// writes the subscribe frame immediately: a swap created mid-session
// would otherwise only get subscribed the next time the socket
// reconnects, missing every status event in between.
func (m *Manager) MarkTracked(id string, kind Kind) {
	m.mu.Lock()
	key := trackKey{id, kind}
	alreadyTracked := m.tracked[key]
	m.tracked[key] = true
	conn := m.conn
	m.mu.Unlock()

	if alreadyTracked || conn == nil {
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	req := subscribeRequest{Action: "subscribe", ID: id}
	if err := conn.WriteJSON(req); err != nil {
		m.log.Warn("live subscribe failed, will resubscribe on next reconnect", "swap_id", id, "kind", kind, "error", err)
	}
}

// UnmarkTracked idempotently forgets a swap.
func (m *Manager) UnmarkTracked(id string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracked, trackKey{id, kind})
}

// IsTracked reports whether id/kind currently has an active subscription.
func (m *Manager) IsTracked(id string, kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracked[trackKey{id, kind}]
}

func (m *Manager) run() {
	defer m.wg.Done()

	backoff := config.StatusStreamMinBackoff
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if err := m.connectAndDispatch(); err != nil {
			m.log.Warn("status stream disconnected", "error", err, "retry_in", backoff)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > config.StatusStreamMaxBackoff {
			backoff = config.StatusStreamMaxBackoff
		}
	}
}

// statusMessage is the swapper's per-swap status update payload.
type statusMessage struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

func (m *Manager) connectAndDispatch() error {
	url := m.wsURLFor("")

	conn, _, err := websocket.DefaultDialer.DialContext(m.ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	m.mu.Lock()
	m.conn = conn
	subs := m.subscriptionList()
	m.mu.Unlock()

	if err := m.resubscribeAll(conn, subs); err != nil {
		return err
	}

	for {
		select {
		case <-m.ctx.Done():
			return nil
		default:
		}

		var msg statusMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		m.dispatch(msg)
	}
}

func (m *Manager) subscriptionList() []trackKey {
	keys := make([]trackKey, 0, len(m.tracked))
	for k := range m.tracked {
		keys = append(keys, k)
	}
	return keys
}

type subscribeRequest struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

func (m *Manager) resubscribeAll(conn *websocket.Conn, subs []trackKey) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	for _, k := range subs {
		req := subscribeRequest{Action: "subscribe", ID: k.id}
		if err := conn.WriteJSON(req); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) dispatch(msg statusMessage) {
	switch Kind(msg.Kind) {
	case KindSend:
		if !m.IsTracked(msg.ID, KindSend) {
			return
		}
		m.dispatcher.OnSendStatus(msg.State, msg.ID)
	case KindReceive:
		if !m.IsTracked(msg.ID, KindReceive) {
			return
		}
		m.dispatcher.OnReceiveStatus(msg.State, msg.ID)
	default:
		m.log.Warn("unknown status stream kind, dropping", "kind", msg.Kind, "id", msg.ID)
	}
}
