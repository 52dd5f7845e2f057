package proxy

import (
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/k-nuth/network/internal/timerutil"
	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/payload"
	"go.uber.org/zap"
)

// ChannelConfig adds the two timer durations to the wire-level Config.
type ChannelConfig struct {
	Proxy             Config
	InactivityTimeout time.Duration
	ExpirationTimeout time.Duration
	// OnMessage, if set, is called after every successfully dispatched
	// inbound message, alongside the inactivity timer reset. Used by
	// the controller to drive its received-message counter.
	OnMessage func()
}

// Channel is one TCP connection: a Proxy plus an inactivity timer, an
// expiration timer, and per-peer handshake state (nonce, negotiated
// version inherited from Proxy, and an optional PeerVersion record).
type Channel struct {
	*Proxy

	cfg ChannelConfig
	log *zap.Logger

	nonce  atomic.Uint64
	notify atomic.Bool

	peerVersion atomic.Pointer[payload.PeerVersion]

	inactivityTimer *time.Timer
	expirationTimer *time.Timer
	timersMu        chan struct{} // binary semaphore guarding timer cancel/reset
}

// NewChannel wraps conn in a Channel. A fresh nonce is generated here;
// sessions regenerate it via ResetNonce before registering for
// handshake, per spec §4.7 step 2.
func NewChannel(conn net.Conn, auth authority.Authority, cfg ChannelConfig, pool func(func()), log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Channel{
		cfg:      cfg,
		log:      log.With(zap.String("component", "channel")),
		timersMu: make(chan struct{}, 1),
	}
	c.timersMu <- struct{}{}
	c.nonce.Store(rand.Uint64())
	hooks := Hooks{
		OnActivity: c.resetInactivityTimer,
		OnStopping: c.cancelTimers,
	}
	c.Proxy = New(conn, auth, cfg.Proxy, pool, hooks, log)
	return c
}

// Nonce returns the 64-bit nonce advertised in our version message.
func (c *Channel) Nonce() uint64 { return c.nonce.Load() }

// ResetNonce generates a fresh nonce; called by a session just before
// registering the channel for handshake (spec §4.7 step 2).
func (c *Channel) ResetNonce() { c.nonce.Store(rand.Uint64()) }

// Notify reports whether this channel's registration should be
// published on the connection subscriber.
func (c *Channel) Notify() bool { return c.notify.Load() }

// SetNotify sets the notify flag, per session configuration.
func (c *Channel) SetNotify(v bool) { c.notify.Store(v) }

// PeerVersion returns the peer's recorded version, or nil if not yet
// received.
func (c *Channel) PeerVersion() *payload.PeerVersion { return c.peerVersion.Load() }

// SetPeerVersion stores the peer's version record; set once per
// channel, by the version protocol.
func (c *Channel) SetPeerVersion(v *payload.PeerVersion) { c.peerVersion.Store(v) }

// Start begins the channel's read cycle and starts both timers. handler
// is the same synchronous success callback as Proxy.Start.
func (c *Channel) Start(handler func(error)) {
	c.startTimers()
	c.Proxy.Start(handler)
}

func (c *Channel) startTimers() {
	<-c.timersMu
	if c.cfg.InactivityTimeout > 0 {
		c.inactivityTimer = time.AfterFunc(c.cfg.InactivityTimeout, func() {
			c.Proxy.Stop(errcode.New(errcode.ChannelTimeout))
		})
	}
	if c.cfg.ExpirationTimeout > 0 {
		jittered := jitter(c.nonce.Load(), c.cfg.ExpirationTimeout)
		c.expirationTimer = time.AfterFunc(jittered, func() {
			c.Proxy.Stop(errcode.New(errcode.ChannelTimeout))
		})
	}
	c.timersMu <- struct{}{}
}

func (c *Channel) resetInactivityTimer() {
	<-c.timersMu
	if c.inactivityTimer != nil {
		c.inactivityTimer.Reset(c.cfg.InactivityTimeout)
	}
	c.timersMu <- struct{}{}
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage()
	}
}

// cancelTimers is the Channel's override of Proxy's handle_stopping hook.
func (c *Channel) cancelTimers() {
	<-c.timersMu
	if c.inactivityTimer != nil {
		c.inactivityTimer.Stop()
	}
	if c.expirationTimer != nil {
		c.expirationTimer.Stop()
	}
	c.timersMu <- struct{}{}
}

// Stopped returns true for ChannelStopped and ServiceStopped codes, in
// addition to the proxy's own stopped state.
func (c *Channel) Stopped(code error) bool {
	if c.Proxy.Stopped() {
		return true
	}
	return errcode.IsKind(code, errcode.ChannelStopped) || errcode.IsKind(code, errcode.ServiceStopped)
}

// jitter deterministically maps a channel's nonce to a duration in
// [0, max); see internal/timerutil for the implementation.
func jitter(seed uint64, max time.Duration) time.Duration {
	return timerutil.Jitter(seed, max)
}
