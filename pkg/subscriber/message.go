package subscriber

import (
	"sync"

	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/payload"
)

// DispatchMode selects how a message kind's handlers are fired.
type DispatchMode int

const (
	// Relay fires handlers fire-and-forget on a pool goroutine.
	Relay DispatchMode = iota
	// Invoke fires handlers synchronously, serialized on the reader's
	// goroutine, so the proxy back-pressures on handler completion.
	Invoke
)

// invokeKinds fire synchronously so the proxy read loop back-pressures
// on handler completion, per spec §4.5.
var invokeKinds = map[payload.Kind]bool{
	payload.KindBlock:       true,
	payload.KindTransaction: true,
	payload.KindVersion:     true,
	payload.KindVerack:      true,
}

func modeFor(kind payload.Kind) DispatchMode {
	if invokeKinds[kind] {
		return Invoke
	}
	return Relay
}

// MessageHandler is called with an event code and the decoded, shared
// message; false drops the subscription.
type MessageHandler func(code error, msg payload.Message) bool

// MessageSubscriber is the kind-indexed table of resubscribers: one per
// recognized message kind, keyed by command string.
type MessageSubscriber struct {
	mu       sync.RWMutex
	buses    map[payload.Kind]*Resubscriber[payload.Message]
	started  bool
	pool     func(func())
}

// NewMessageSubscriber builds a subscriber for every kind payload.New
// recognizes. pool, if non-nil, is used to run Relay-mode dispatch
// asynchronously (e.g. a worker pool's Submit); nil runs it on a new
// goroutine.
func NewMessageSubscriber(pool func(func())) *MessageSubscriber {
	m := &MessageSubscriber{
		buses: make(map[payload.Kind]*Resubscriber[payload.Message]),
		pool:  pool,
	}
	for _, k := range payload.AllKinds() {
		m.buses[k] = NewResubscriber[payload.Message]()
	}
	return m
}

// Start opens the subscriber to new subscriptions.
func (m *MessageSubscriber) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
}

// Stop closes the subscriber: every kind's bus fires ChannelStopped to
// its remaining handlers and is cleared.
func (m *MessageSubscriber) Stop() {
	m.Broadcast(errcode.New(errcode.ChannelStopped))
}

// Broadcast publishes (code, nil) on every kind's bus, stopping each —
// used by the proxy on channel stop.
func (m *MessageSubscriber) Broadcast(code error) {
	m.mu.RLock()
	buses := make([]*Resubscriber[payload.Message], 0, len(m.buses))
	for _, b := range m.buses {
		buses = append(buses, b)
	}
	m.mu.RUnlock()
	for _, b := range buses {
		b.Stop(code, nil)
	}
}

// Subscribe registers h for kind. Handlers for a kind not in this
// core's recognized set are rejected (the caller should check AllKinds
// or just rely on this being a no-op bus of a kind that never fires).
func (m *MessageSubscriber) Subscribe(kind payload.Kind, h MessageHandler) {
	m.mu.RLock()
	bus, ok := m.buses[kind]
	m.mu.RUnlock()
	if !ok {
		return
	}
	bus.Subscribe(func(code error, msg payload.Message) bool {
		return h(code, msg)
	}, errcode.New(errcode.ChannelStopped), nil)
}

// Load decodes payload bytes of the given kind at the given negotiated
// version and publishes the result to every subscribed handler for
// that kind. A decode failure returns BadStream without notifying
// handlers. A kind this core does not recognize returns NotFound
// without stopping the channel.
func (m *MessageSubscriber) Load(kind payload.Kind, version uint32, raw []byte) error {
	msg, ok := payload.New(kind)
	if !ok {
		return errcode.New(errcode.NotFound)
	}
	if err := payload.DecodeInto(msg, version, raw); err != nil {
		return errcode.Wrap(errcode.BadStream, err)
	}

	m.mu.RLock()
	bus := m.buses[kind]
	m.mu.RUnlock()

	switch modeFor(kind) {
	case Invoke:
		bus.Publish(nil, msg)
	default:
		if m.pool != nil {
			m.pool(func() { bus.Publish(nil, msg) })
		} else {
			go bus.Publish(nil, msg)
		}
	}
	return nil
}
