// Package proxy implements framed message I/O over one socket: heading
// parsing, payload bounds and checksum validation, and dispatch of
// decoded messages to the per-kind message subscriber. Channel (in
// this package) layers timers and handshake state on top of Proxy.
package proxy

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/payload"
	"github.com/k-nuth/network/pkg/subscriber"
	"go.uber.org/zap"
)

// Config carries the wire-level settings a Proxy needs: network magic,
// the protocol's hard payload ceiling, and whether to validate the
// heading checksum.
type Config struct {
	Magic             uint32
	ProtocolMaximum   uint32
	MaxPayloadBase    uint32 // non-witness payload ceiling
	MaxPayloadWitness uint32 // witness-aware payload ceiling
	WitnessAdvertised bool
	ValidateChecksum  bool
}

func (c Config) maxPayload() uint32 {
	if c.WitnessAdvertised {
		return c.MaxPayloadWitness
	}
	return c.MaxPayloadBase
}

// Hooks lets an embedding type (Channel) observe proxy lifecycle
// events without Proxy knowing about Channel. Both fields may be nil.
type Hooks struct {
	// OnActivity fires after every successfully parsed inbound message,
	// before the next heading read begins.
	OnActivity func()
	// OnStopping fires once, during Stop, after the stop subscriber has
	// fired and before the socket is closed.
	OnStopping func()
}

// Proxy frames and dispatches Bitcoin-family messages over one socket.
type Proxy struct {
	conn      net.Conn
	auth      authority.Authority
	cfg       Config
	log       *zap.Logger
	hooks     Hooks

	negotiatedVersion atomic.Uint32
	started           atomic.Bool
	stopped           atomic.Bool
	writeMu           sync.Mutex

	msgSub  *subscriber.MessageSubscriber
	stopBus *subscriber.StopBus

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Proxy over conn. pool, if non-nil, is used to run
// Relay-mode message dispatch (see subscriber.NewMessageSubscriber).
func New(conn net.Conn, auth authority.Authority, cfg Config, pool func(func()), hooks Hooks, log *zap.Logger) *Proxy {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Proxy{
		conn:    conn,
		auth:    auth,
		cfg:     cfg,
		log:     log.With(zap.Stringer("authority", auth)),
		hooks:   hooks,
		msgSub:  subscriber.NewMessageSubscriber(pool),
		stopBus: subscriber.NewStopBus(),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.negotiatedVersion.Store(cfg.ProtocolMaximum)
	return p
}

// Authority returns the far-end authority, immutable from construction.
func (p *Proxy) Authority() authority.Authority { return p.auth }

// NegotiatedVersion returns the version used by Send for serialization.
func (p *Proxy) NegotiatedVersion() uint32 { return p.negotiatedVersion.Load() }

// SetNegotiatedVersion is called by the version protocol once the peer's
// version is known.
func (p *Proxy) SetNegotiatedVersion(v uint32) { p.negotiatedVersion.Store(v) }

// Subscribe registers h for kind.
func (p *Proxy) Subscribe(kind payload.Kind, h subscriber.MessageHandler) {
	p.msgSub.Subscribe(kind, h)
}

// SubscribeStop registers a one-shot stop handler.
func (p *Proxy) SubscribeStop(h subscriber.StopHandler) {
	p.stopBus.Subscribe(h)
}

// Stopped reports whether Stop has been called.
func (p *Proxy) Stopped() bool { return p.stopped.Load() }

// Start transitions the proxy to running, synchronously invokes handler
// with nil (so callers can subscribe before any message can arrive),
// and then begins the heading-read cycle on a new goroutine.
func (p *Proxy) Start(handler func(error)) {
	if !p.started.CompareAndSwap(false, true) {
		handler(errcode.New(errcode.OperationFailed))
		return
	}
	p.msgSub.Start()
	handler(nil)
	go p.readLoop()
}

// Send serializes msg at the current negotiated version and writes it
// under the proxy's write lock, so concurrent sends never interleave.
func (p *Proxy) Send(msg payload.Message, handler func(error)) {
	if p.stopped.Load() {
		if handler != nil {
			handler(errcode.New(errcode.ChannelStopped))
		}
		return
	}
	framed, err := payload.Frame(p.cfg.Magic, p.negotiatedVersion.Load(), msg)
	if err != nil {
		if handler != nil {
			handler(errcode.Wrap(errcode.BadStream, err))
		}
		return
	}

	p.writeMu.Lock()
	_, werr := p.conn.Write(framed)
	p.writeMu.Unlock()

	if werr != nil {
		if handler != nil {
			handler(errcode.Wrap(errcode.OperationFailed, werr))
		}
		return
	}
	if handler != nil {
		handler(nil)
	}
}

func (p *Proxy) readLoop() {
	for {
		headingBuf := make([]byte, payload.HeadingSize)
		if _, err := io.ReadFull(p.conn, headingBuf); err != nil {
			p.Stop(mapReadError(err))
			return
		}
		h, err := payload.DecodeHeading(headingBuf)
		if err != nil {
			p.Stop(errcode.Wrap(errcode.BadStream, err))
			return
		}
		if h.Magic != p.cfg.Magic {
			p.Stop(errcode.New(errcode.BadStream))
			return
		}
		if h.Length > p.cfg.maxPayload() {
			p.Stop(errcode.New(errcode.BadStream))
			return
		}

		body := make([]byte, h.Length)
		if h.Length > 0 {
			if _, err := io.ReadFull(p.conn, body); err != nil {
				p.Stop(mapReadError(err))
				return
			}
		}

		if p.cfg.ValidateChecksum {
			if payload.Checksum4(body) != h.Checksum {
				p.Stop(errcode.New(errcode.BadStream))
				return
			}
		}

		if err := p.msgSub.Load(h.Command, p.negotiatedVersion.Load(), body); err != nil {
			if errcode.IsKind(err, errcode.NotFound) {
				// Unrecognized kind: keep the channel open.
				continue
			}
			p.Stop(err)
			return
		}

		if p.hooks.OnActivity != nil {
			p.hooks.OnActivity()
		}
	}
}

func mapReadError(err error) error {
	if err == io.EOF {
		return errcode.Wrap(errcode.BadStream, err)
	}
	return errcode.Wrap(errcode.OperationFailed, err)
}

// Stop idempotently tears the proxy down: marks stopped, broadcasts
// ChannelStopped to every message subscriber, fires the stop
// subscriber with code, invokes OnStopping, then closes the socket.
func (p *Proxy) Stop(code error) {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	p.msgSub.Broadcast(errcode.New(errcode.ChannelStopped))
	p.stopBus.StopWith(code)
	if p.hooks.OnStopping != nil {
		p.hooks.OnStopping()
	}
	_ = p.conn.Close()
}

// Context is cancelled when Stop is called; useful for timers owned by
// an embedding Channel.
func (p *Proxy) Context() context.Context { return p.ctx }
