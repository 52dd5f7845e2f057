package protocol

import (
	"math/rand"
	"sync"

	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/payload"
	"github.com/k-nuth/network/pkg/proxy"
)

// PingVariant selects 31402 (no nonce, no timeout enforcement) or
// 60001 (nonce-matched pong, one outstanding ping at a time) wire
// behavior.
type PingVariant int

const (
	Ping31402 PingVariant = 31402
	Ping60001 PingVariant = 60001
)

// PingProtocol sends a ping on a perpetual heartbeat timer and answers
// incoming pings with a pong.
type PingProtocol struct {
	*Timer
	cfg     Config
	variant PingVariant

	mu          sync.Mutex
	pendingSent bool
	pendingNonce uint64
}

func NewPing(ch *proxy.Channel, cfg Config, variant PingVariant) *PingProtocol {
	return &PingProtocol{Timer: NewTimer(ch, true), cfg: cfg, variant: variant}
}

// Start subscribes to incoming ping/pong and starts the perpetual
// heartbeat timer. h is invoked with ChannelTimeout if a 60001 ping
// goes unanswered across a full heartbeat interval; h is otherwise
// never invoked with success (ping runs for the channel's lifetime).
func (p *PingProtocol) Start(h EventHandler) {
	p.Channel.Subscribe(payload.KindPing, func(code error, msg payload.Message) bool {
		if code != nil {
			return false
		}
		p.onPing(msg.(*payload.Ping))
		return true
	})

	if p.variant == Ping60001 {
		p.Channel.Subscribe(payload.KindPong, func(code error, msg payload.Message) bool {
			if code != nil {
				return false
			}
			p.onPong(msg.(*payload.Pong))
			return true
		})
	}

	p.StartTimer(p.cfg.HeartbeatInterval, func(code error) {
		if !errcode.IsKind(code, errcode.ChannelTimeout) {
			if h != nil {
				h(code)
			}
			return
		}
		p.onTimer(h)
	})
}

func (p *PingProtocol) onTimer(h EventHandler) {
	if p.variant != Ping60001 {
		p.Channel.Send(&payload.Ping{}, nil)
		return
	}

	p.mu.Lock()
	stillPending := p.pendingSent
	p.mu.Unlock()
	if stillPending {
		if h != nil {
			h(errcode.New(errcode.ChannelTimeout))
		}
		p.Channel.Stop(errcode.New(errcode.ChannelTimeout))
		return
	}

	nonce := rand.Uint64()
	p.mu.Lock()
	p.pendingSent = true
	p.pendingNonce = nonce
	p.mu.Unlock()
	p.Channel.Send(&payload.Ping{Nonce: nonce, HasNonce: true}, nil)
}

func (p *PingProtocol) onPing(ping *payload.Ping) {
	if p.variant == Ping60001 && ping.HasNonce {
		p.Channel.Send(&payload.Pong{Nonce: ping.Nonce}, nil)
		return
	}
	p.Channel.Send(&payload.Pong{}, nil)
}

func (p *PingProtocol) onPong(pong *payload.Pong) {
	p.mu.Lock()
	expected := p.pendingNonce
	wasPending := p.pendingSent
	matches := wasPending && pong.Nonce == expected
	if matches {
		p.pendingSent = false
	}
	p.mu.Unlock()

	if !matches {
		p.SetEvent(errcode.New(errcode.BadStream))
		p.Channel.Stop(errcode.New(errcode.BadStream))
	}
}
