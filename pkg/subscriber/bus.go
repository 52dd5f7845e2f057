// Package subscriber implements the two SubscriberBus shapes shared by
// every fan-out point in the network core (stop events, connection
// events, decoded messages): a one-shot bus that fires each handler
// exactly once, and a resubscriber bus whose handlers opt out by
// returning false.
package subscriber

import "sync"

// StopHandler is a one-shot handler invoked with the terminal code.
type StopHandler func(code error)

// StopBus fires each subscribed handler exactly once with the final
// code, then rejects further subscriptions (a late Subscribe instead
// fires immediately, replaying the stored code).
type StopBus struct {
	mu       sync.Mutex
	handlers []StopHandler
	stopped  bool
	code     error
}

func NewStopBus() *StopBus {
	return &StopBus{}
}

// Subscribe registers h. If the bus already stopped, h fires
// immediately with the stored code.
func (b *StopBus) Subscribe(h StopHandler) {
	b.mu.Lock()
	if !b.stopped {
		b.handlers = append(b.handlers, h)
		b.mu.Unlock()
		return
	}
	code := b.code
	b.mu.Unlock()
	h(code)
}

// StopWith fires every currently subscribed handler exactly once with
// code, then clears the list and rejects further subscriptions.
// Idempotent: a second call is a no-op and does not re-fire handlers.
func (b *StopBus) StopWith(code error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.code = code
	handlers := b.handlers
	b.handlers = nil
	b.mu.Unlock()

	for _, h := range handlers {
		h(code)
	}
}

// Stopped reports whether StopWith has already fired.
func (b *StopBus) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}
