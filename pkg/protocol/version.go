package protocol

import (
	"strings"
	"sync"
	"time"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/payload"
	"github.com/k-nuth/network/pkg/proxy"
)

// Variant selects the version protocol's wire-level behavior: 31402
// never checks peer sufficiency and never sends reject; 70002 checks
// sufficiency and advertises a relay flag.
type Variant int

const (
	Version31402 Variant = 31402
	Version70002 Variant = 70002
)

// VersionProtocol drives the version/verack handshake on one channel.
// It requires exactly two successful events (our version acked, their
// version accepted) before firing the caller's completion handler with
// success; any error short-circuits to failure.
type VersionProtocol struct {
	*Timer
	cfg     Config
	variant Variant

	mu        sync.Mutex
	successes int
	done      bool
}

// NewVersion attaches a version protocol of the given variant to ch.
func NewVersion(ch *proxy.Channel, cfg Config, variant Variant) *VersionProtocol {
	return &VersionProtocol{Timer: NewTimer(ch, false), cfg: cfg, variant: variant}
}

// Start sends our version message, subscribes to the peer's version
// and verack, and starts the bounded handshake timer. h fires exactly
// once, with success after two handshake events succeed or with the
// first error encountered.
func (v *VersionProtocol) Start(h EventHandler) {
	v.StartTimer(v.cfg.HandshakeTimeout, func(code error) {
		v.complete(code, h)
	})

	v.Channel.Subscribe(payload.KindVersion, func(code error, msg payload.Message) bool {
		v.onVersion(code, msg, h)
		return false
	})
	v.Channel.Subscribe(payload.KindVerack, func(code error, msg payload.Message) bool {
		v.onVerack(code, h)
		return false
	})

	v.sendVersion(h)
}

func (v *VersionProtocol) sendVersion(h EventHandler) {
	receiver := v.Channel.Authority()
	own := &payload.Version{
		Value:       v.cfg.OwnVersion,
		Services:    v.cfg.OwnServices,
		Timestamp:   time.Now(),
		ReceiverAddress: authority.NetworkAddress{IP: receiver.IP, Port: receiver.Port, Services: 0},
		SenderAddress:   v.cfg.Self,
		Nonce:           v.Channel.Nonce(),
		UserAgent:       v.cfg.UserAgent,
		StartHeight:     clampHeight(v.cfg.BestHeight),
	}
	if v.variant == Version70002 {
		own.Relay = v.cfg.RelayTransactions
	}
	v.Channel.Send(own, func(err error) {
		if err != nil {
			v.complete(err, h)
		}
	})
}

func clampHeight(bestHeight func() uint32) uint32 {
	if bestHeight == nil {
		return 0
	}
	return bestHeight()
}

func (v *VersionProtocol) onVersion(code error, msg payload.Message, h EventHandler) {
	if code != nil {
		v.complete(code, h)
		return
	}
	peer, ok := msg.(*payload.Version)
	if !ok {
		v.complete(errcode.New(errcode.BadStream), h)
		return
	}

	if blacklisted(peer.UserAgent, v.cfg.UserAgentBlacklist) {
		v.complete(errcode.New(errcode.AddressBlocked), h)
		return
	}

	if v.variant == Version70002 {
		if ok, reason := v.cfg.Sufficient(peer.Services, peer.Value); !ok {
			v.sendReject(reason)
			v.complete(errcode.New(errcode.OperationFailed), h)
			return
		}
	}

	v.Channel.SetPeerVersion(payload.PeerVersionFrom(peer))
	negotiated := v.cfg.OwnVersion
	if peer.Value < negotiated {
		negotiated = peer.Value
	}
	v.Channel.SetNegotiatedVersion(negotiated)

	v.Channel.Send(&payload.Verack{}, func(err error) {
		if err != nil {
			v.complete(err, h)
			return
		}
		v.recordSuccess(h)
	})
}

func (v *VersionProtocol) sendReject(reason string) {
	v.Channel.Send(&payload.Reject{
		Message: string(payload.KindVersion),
		Code:    payload.RejectObsolete,
		Reason:  reason,
	}, nil)
}

func (v *VersionProtocol) onVerack(code error, h EventHandler) {
	if code != nil {
		v.complete(code, h)
		return
	}
	v.recordSuccess(h)
}

func (v *VersionProtocol) recordSuccess(h EventHandler) {
	v.mu.Lock()
	v.successes++
	reached := v.successes >= 2
	v.mu.Unlock()
	if reached {
		v.complete(nil, h)
	}
}

func (v *VersionProtocol) complete(code error, h EventHandler) {
	v.mu.Lock()
	if v.done {
		v.mu.Unlock()
		return
	}
	v.done = true
	v.mu.Unlock()

	v.CancelTimer()
	if h != nil {
		h(code)
	}
}

// blacklisted reports whether ua matches any blacklist entry as a
// prefix in either direction, per spec §4.6.
func blacklisted(ua string, blacklist []string) bool {
	for _, entry := range blacklist {
		if entry == "" {
			continue
		}
		if strings.HasPrefix(ua, entry) || strings.HasPrefix(entry, ua) {
			return true
		}
	}
	return false
}
