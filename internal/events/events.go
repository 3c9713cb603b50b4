// Package events implements the pub/sub fan-out of payment lifecycle
// events to registered listeners (spec.md §4.G), grounded on the
// teacher's uuid-keyed listener map and emitEvent best-effort dispatch.
package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/klingon-exchange/bridgewallet/internal/walletdb"
	"github.com/klingon-exchange/bridgewallet/pkg/logging"
)

// Kind enumerates the event types the engine may emit.
type Kind string

const (
	KindPaymentSucceed             Kind = "payment_succeed"
	KindPaymentPending             Kind = "payment_pending"
	KindPaymentWaitingConfirmation Kind = "payment_waiting_confirmation"
	KindPaymentFailed              Kind = "payment_failed"
	KindPaymentRefunded            Kind = "payment_refunded"
	KindPaymentRefundPending       Kind = "payment_refund_pending"
	KindSynced                     Kind = "synced"
)

// Event is the payload delivered to listeners. Payment is nil for Synced.
type Event struct {
	Kind    Kind
	Payment *walletdb.Payment
}

// Listener receives events. Implementations must not block for long:
// delivery is best-effort and a slow listener only delays itself.
type Listener func(Event)

// Manager maintains listener registrations and fans out events.
type Manager struct {
	mu        sync.RWMutex
	listeners map[string]Listener
	log       *logging.Logger
}

// New builds an empty Manager.
func New() *Manager {
	return &Manager{
		listeners: make(map[string]Listener),
		log:       logging.GetDefault().Component("events"),
	}
}

// AddListener registers l and returns its listener id.
func (m *Manager) AddListener(l Listener) string {
	id := uuid.New().String()
	m.mu.Lock()
	m.listeners[id] = l
	m.mu.Unlock()
	return id
}

// RemoveListener unregisters the listener with the given id. No-op if
// the id is unknown.
func (m *Manager) RemoveListener(id string) {
	m.mu.Lock()
	delete(m.listeners, id)
	m.mu.Unlock()
}

// Notify delivers event to every registered listener. Delivery is
// best-effort: a panicking or slow listener runs in its own goroutine
// and cannot block or fail delivery to the others (spec.md §4.G).
func (m *Manager) Notify(event Event) {
	m.mu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.RUnlock()

	for _, l := range listeners {
		go m.deliver(l, event)
	}
}

func (m *Manager) deliver(l Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("event listener panicked", "panic", r, "kind", event.Kind)
		}
	}()
	l(event)
}
