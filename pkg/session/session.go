// Package session implements the four session kinds — seed, manual,
// inbound, outbound — that the P2P controller drives: each owns a
// slice of the channel lifecycle (dial or accept, handshake, ongoing
// protocols) on top of the shared registration sequence in Session.
package session

import (
	"sync/atomic"

	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/protocol"
	"github.com/k-nuth/network/pkg/proxy"
	"github.com/k-nuth/network/pkg/registry"
	"go.uber.org/zap"
)

// Network is the subset of the P2P controller a session depends on.
// Declared here, implemented by *network.Controller, so session and
// network never import each other directly.
type Network interface {
	Stopped() bool
	SubscribeStop(func(error))
	PendingConnect() *registry.PendingConnect
	PendingHandshake() *registry.PendingHandshake
	Open() *registry.Open
	Pool() protocol.AddressPool
	NewChannelConfig() proxy.ChannelConfig
	NewProtocolConfig() protocol.Config
	Dispatch(func())
	NotifyChannel(ch *proxy.Channel)
	Logger() *zap.Logger
}

// Config carries settings common to every session.
type Config struct {
	// Notify controls whether channels this session registers are
	// published on the controller's connection subscriber.
	Notify bool
}

// Hooks lets a concrete session override two steps of the registration
// sequence (spec §4.7 steps 4 and 5) without Session knowing about its
// subclasses, mirroring proxy.Hooks.
type Hooks struct {
	// AttachHandshakeProtocols runs the version handshake (31402 or
	// 70002, chosen from the channel's current negotiated version) and
	// reports its outcome. Required.
	AttachHandshakeProtocols func(ch *proxy.Channel, h func(error))
	// HandshakeComplete runs after a successful handshake; by default
	// it registers ch in Open. Inbound overrides it.
	HandshakeComplete func(ch *proxy.Channel, h func(error))
}

// Session is the base every concrete session embeds.
type Session struct {
	net   Network
	cfg   Config
	hooks Hooks
	log   *zap.Logger

	stopped atomic.Bool
}

// New builds a base session. hooks.AttachHandshakeProtocols defaults
// to DefaultAttachHandshakeProtocols and hooks.HandshakeComplete to
// DefaultHandshakeComplete when left nil.
func New(net Network, cfg Config, hooks Hooks, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{net: net, cfg: cfg, hooks: hooks, log: log}
	if s.hooks.AttachHandshakeProtocols == nil {
		s.hooks.AttachHandshakeProtocols = s.DefaultAttachHandshakeProtocols
	}
	if s.hooks.HandshakeComplete == nil {
		s.hooks.HandshakeComplete = s.DefaultHandshakeComplete
	}
	return s
}

// Start subscribes the session to the controller's stop event so its
// own Stopped() reflects a controller-wide shutdown, then fires h.
func (s *Session) Start(h func(error)) {
	s.net.SubscribeStop(func(error) { s.stopped.Store(true) })
	fire(h, nil)
}

// SubscribeStop forwards to the controller's stop subscriber.
func (s *Session) SubscribeStop(h func(error)) {
	s.net.SubscribeStop(h)
}

// Stopped reports whether this session or the controller has stopped.
func (s *Session) Stopped() bool {
	return s.stopped.Load() || s.net.Stopped()
}

func (s *Session) Network() Network   { return s.net }
func (s *Session) Logger() *zap.Logger { return s.log }

// DefaultAttachHandshakeProtocols runs the version protocol, choosing
// the 31402 or 70002 wire variant from the channel's negotiated
// version as it stands before any peer message arrives (per NewChannel,
// that value starts at the proxy's configured protocol maximum).
func (s *Session) DefaultAttachHandshakeProtocols(ch *proxy.Channel, h func(error)) {
	variant := protocol.Version31402
	if ch.NegotiatedVersion() >= 70002 {
		variant = protocol.Version70002
	}
	v := protocol.NewVersion(ch, s.net.NewProtocolConfig(), variant)
	v.Start(h)
}

// DefaultHandshakeComplete removes ch from the pending-handshake
// registry (its mid-handshake bookkeeping is done, one way or another)
// and registers it in the open registry.
func (s *Session) DefaultHandshakeComplete(ch *proxy.Channel, h func(error)) {
	s.net.PendingHandshake().Remove(ch)
	if err := s.net.Open().Insert(ch); err != nil {
		fire(h, err)
		return
	}
	fire(h, nil)
}

// RegisterChannel runs the six-step registration sequence common to
// every session: start the channel, place it in pending-handshake
// (keyed by the nonce it just generated, so another channel's inbound
// loopback check can find it), run the handshake protocols, hand off
// to HandshakeComplete (which clears the pending-handshake entry
// before registering in Open), then wire the stop subscription.
// started fires once the channel is fully registered (or registration
// failed); stopped fires once, when the channel later stops (or
// immediately, alongside started, on registration failure).
func (s *Session) RegisterChannel(ch *proxy.Channel, started, stopped func(error)) {
	if s.Stopped() {
		fire(started, errcode.New(errcode.ServiceStopped))
		fire(stopped, errcode.New(errcode.ServiceStopped))
		return
	}

	ch.SetNotify(s.cfg.Notify)
	ch.ResetNonce()

	ch.Start(func(err error) {
		if err != nil {
			fire(started, err)
			fire(stopped, err)
			return
		}
		if err := s.net.PendingHandshake().Insert(ch); err != nil {
			ch.Stop(err)
			fire(started, err)
			fire(stopped, err)
			return
		}
		s.hooks.AttachHandshakeProtocols(ch, func(err error) {
			if err != nil {
				s.net.PendingHandshake().Remove(ch)
				ch.Stop(err)
				fire(started, err)
				fire(stopped, err)
				return
			}
			s.hooks.HandshakeComplete(ch, func(err error) {
				if err != nil {
					ch.Stop(err)
					fire(started, err)
					fire(stopped, err)
					return
				}
				if ch.Notify() {
					s.net.NotifyChannel(ch)
				}
				ch.SubscribeStop(func(code error) {
					s.net.Open().Remove(ch.Authority())
					fire(stopped, code)
				})
				fire(started, nil)
			})
		})
	})
}

// AttachOngoingProtocols starts the ping, address and reject protocols
// on a fully registered channel. Called by every session kind except
// seed, whose channels are stopped as soon as the one-shot address
// exchange completes.
func (s *Session) AttachOngoingProtocols(ch *proxy.Channel) {
	pcfg := s.net.NewProtocolConfig()

	pingVariant := protocol.Ping31402
	if ch.NegotiatedVersion() >= 60001 {
		pingVariant = protocol.Ping60001
	}
	protocol.NewPing(ch, pcfg, pingVariant).Start(func(error) {})
	protocol.NewAddress(ch, pcfg, s.net.Pool()).Start(func(error) {})
	protocol.NewReject(ch, s.log).Start(func(error) {})
}

func fire(h func(error), err error) {
	if h != nil {
		h(err)
	}
}
