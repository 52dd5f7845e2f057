// Package registry implements the P2P controller's three disjoint
// channel sets: pending-connect (outstanding dial handles, cancelled
// on shutdown), pending-handshake (channels mid-handshake, keyed by
// nonce for loopback detection), and open (channels past handshake,
// keyed by authority for duplicate suppression).
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/proxy"
)

// PendingConnect tracks outstanding connector handles so Stop can
// cancel every in-flight dial.
type PendingConnect struct {
	mu    sync.Mutex
	items map[string]context.CancelFunc
}

func NewPendingConnect() *PendingConnect {
	return &PendingConnect{items: make(map[string]context.CancelFunc)}
}

// Add registers cancel under a fresh id and returns it; call Remove(id)
// once the dial settles.
func (r *PendingConnect) Add(cancel context.CancelFunc) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.items[id] = cancel
	r.mu.Unlock()
	return id
}

func (r *PendingConnect) Remove(id string) {
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
}

// StopAll cancels every outstanding dial and clears the registry.
func (r *PendingConnect) StopAll() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]context.CancelFunc)
	r.mu.Unlock()
	for _, cancel := range items {
		cancel()
	}
}

// PendingHandshake holds channels mid-handshake, keyed by the nonce we
// advertised in our version message.
type PendingHandshake struct {
	mu    sync.Mutex
	items map[uint64]*proxy.Channel
}

func NewPendingHandshake() *PendingHandshake {
	return &PendingHandshake{items: make(map[uint64]*proxy.Channel)}
}

// Insert adds ch keyed by its current nonce. Returns AddressInUse if a
// channel with that nonce is already registered (a near-impossible
// random collision, guarded against per spec's registry invariant).
func (r *PendingHandshake) Insert(ch *proxy.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[ch.Nonce()]; exists {
		return errcode.New(errcode.AddressInUse)
	}
	r.items[ch.Nonce()] = ch
	return nil
}

// Remove deletes ch's entry. Idempotent.
func (r *PendingHandshake) Remove(ch *proxy.Channel) {
	r.mu.Lock()
	delete(r.items, ch.Nonce())
	r.mu.Unlock()
}

// Contains reports whether a channel advertising nonce is mid-handshake
// — used by the inbound session to detect self-connections.
func (r *PendingHandshake) Contains(nonce uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[nonce]
	return ok
}

// Count returns the number of channels currently mid-handshake.
func (r *PendingHandshake) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// StopAll stops every mid-handshake channel and clears the registry.
func (r *PendingHandshake) StopAll() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[uint64]*proxy.Channel)
	r.mu.Unlock()
	for _, ch := range items {
		ch.Stop(errcode.New(errcode.ServiceStopped))
	}
}

// Open holds channels past handshake, keyed by authority.
type Open struct {
	mu    sync.Mutex
	items map[string]*proxy.Channel
}

func NewOpen() *Open {
	return &Open{items: make(map[string]*proxy.Channel)}
}

// Insert adds ch keyed by its authority. Returns AddressInUse if that
// authority is already present.
func (r *Open) Insert(ch *proxy.Channel) error {
	key := ch.Authority().Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[key]; exists {
		return errcode.New(errcode.AddressInUse)
	}
	r.items[key] = ch
	return nil
}

// Remove deletes the channel registered under auth. Idempotent.
func (r *Open) Remove(auth authority.Authority) {
	r.mu.Lock()
	delete(r.items, auth.Key())
	r.mu.Unlock()
}

// Count returns the number of open channels.
func (r *Open) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Snapshot returns a point-in-time copy of the open channel set, used
// by Broadcast so sends never hold the registry lock.
func (r *Open) Snapshot() []*proxy.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*proxy.Channel, 0, len(r.items))
	for _, ch := range r.items {
		out = append(out, ch)
	}
	return out
}

// StopAll stops every open channel and clears the registry.
func (r *Open) StopAll() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]*proxy.Channel)
	r.mu.Unlock()
	for _, ch := range items {
		ch.Stop(errcode.New(errcode.ServiceStopped))
	}
}
