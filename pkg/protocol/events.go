// Package protocol implements the version/verack, ping/pong, address
// gossip, seed exchange and reject protocols attached to a channel, on
// top of two shared bases: Events (a single-slot event handler with
// atomic clear-on-terminal semantics) and Timer (one bounded or
// perpetual timer layered on Events).
package protocol

import (
	"sync/atomic"
	"time"

	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/proxy"
)

// EventHandler receives a protocol's completion or failure code.
type EventHandler func(code error)

func isTerminal(code error) bool {
	return errcode.IsKind(code, errcode.ChannelStopped) || errcode.IsKind(code, errcode.ServiceStopped)
}

// Events is the common base every protocol embeds: an atomically
// swappable single-handler slot, subscribed to the channel's stop
// event.
type Events struct {
	Channel *proxy.Channel
	handler atomic.Pointer[EventHandler]
}

// Start installs h and subscribes to the channel's stop event, so a
// channel stop always reaches this protocol's handler.
func (e *Events) Start(h EventHandler) {
	e.handler.Store(&h)
	e.Channel.SubscribeStop(func(code error) {
		e.SetEvent(errcode.New(errcode.ChannelStopped))
	})
}

// SetEvent invokes the currently installed handler, if any. If code is
// terminal, the slot is atomically cleared first via Swap, so exactly
// one goroutine observes the handler and the protocol never fires its
// handler twice for the same terminal transition.
func (e *Events) SetEvent(code error) {
	if isTerminal(code) {
		old := e.handler.Swap(nil)
		if old == nil {
			return
		}
		(*old)(code)
		return
	}
	h := e.handler.Load()
	if h == nil {
		return
	}
	(*h)(code)
}

// Stopped reports whether the handler slot has been cleared.
func (e *Events) Stopped() bool {
	return e.handler.Load() == nil
}

// Timer layers one timer of configured duration on top of Events. A
// non-perpetual timer fires SetEvent(channel-timeout) once; a
// perpetual one resets itself after each fire until the channel stops.
type Timer struct {
	Events
	timer     *time.Timer
	perpetual bool
}

// NewTimer returns a Timer bound to ch. perpetual timers (ping
// heartbeats) reset themselves after every fire.
func NewTimer(ch *proxy.Channel, perpetual bool) *Timer {
	return &Timer{Events: Events{Channel: ch}, perpetual: perpetual}
}

// StartTimer installs h (via Events.Start) and starts the timer.
func (t *Timer) StartTimer(duration time.Duration, h EventHandler) {
	t.Events.Start(h)
	t.resetTimer(duration)
}

func (t *Timer) resetTimer(duration time.Duration) {
	t.timer = time.AfterFunc(duration, func() {
		t.SetEvent(errcode.New(errcode.ChannelTimeout))
		if t.perpetual && !t.Stopped() {
			t.resetTimer(duration)
		}
	})
}

// CancelTimer stops the underlying timer; protocols call this from
// their own stop handling to avoid a stray fire after completion.
func (t *Timer) CancelTimer() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
