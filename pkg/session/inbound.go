package session

import (
	"net"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/proxy"
	"github.com/k-nuth/network/pkg/socket"
	"go.uber.org/zap"
)

// InboundConfig carries the inbound session's own settings.
type InboundConfig struct {
	Port            uint16
	UseIPv6         bool
	ConnectionLimit int // 0 disables inbound entirely
	// TotalLimit is the combined inbound+outbound+manual-peer ceiling
	// checked against the controller's open-channel count on every
	// accept.
	TotalLimit int
	Blacklist  []net.IP
}

// Inbound accepts peer-initiated connections.
type Inbound struct {
	*Session
	cfg      InboundConfig
	acceptor *socket.Acceptor
}

func NewInbound(net Network, cfg Config, icfg InboundConfig, log *zap.Logger) *Inbound {
	in := &Inbound{cfg: icfg}
	in.Session = New(net, cfg, Hooks{HandshakeComplete: in.handshakeComplete}, log)
	return in
}

// Start binds the listening socket and enters the accept loop. A zero
// port or connection limit skips inbound entirely, reporting success.
func (in *Inbound) Start(h func(error)) {
	if in.cfg.Port == 0 || in.cfg.ConnectionLimit == 0 {
		if h != nil {
			h(nil)
		}
		return
	}

	in.acceptor = socket.NewAcceptor(in.Logger())
	if err := in.acceptor.Listen(in.cfg.Port, in.cfg.UseIPv6); err != nil {
		if h != nil {
			h(err)
		}
		return
	}

	in.Session.Start(func(error) {})
	in.SubscribeStop(func(error) { in.acceptor.Stop() })

	if h != nil {
		h(nil)
	}
	in.acceptLoop()
}

func (in *Inbound) acceptLoop() {
	in.acceptor.Accept(func(conn net.Conn, err error) {
		if err != nil {
			if errcode.IsKind(err, errcode.ServiceStopped) {
				return
			}
			in.acceptLoop()
			return
		}
		in.handleAccept(conn)
		in.acceptLoop()
	})
}

func (in *Inbound) handleAccept(conn net.Conn) {
	auth, err := authority.Parse(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return
	}
	if in.blacklisted(auth.IP) {
		conn.Close()
		return
	}
	if in.Network().Open().Count() >= in.cfg.TotalLimit {
		conn.Close()
		return
	}

	ch := proxy.NewChannel(conn, auth, in.Network().NewChannelConfig(), in.Network().Dispatch, in.Logger())
	in.RegisterChannel(ch, func(err error) {
		if err == nil {
			in.AttachOngoingProtocols(ch)
		}
	}, func(error) {})
}

func (in *Inbound) blacklisted(ip net.IP) bool {
	for _, b := range in.cfg.Blacklist {
		if b.Equal(ip) {
			return true
		}
	}
	return false
}

// handshakeComplete overrides the default: an inbound channel whose
// peer advertises the nonce we used on one of our own outstanding
// outbound handshakes is a loopback connection to ourselves, rejected
// as accept-failed instead of being registered.
func (in *Inbound) handshakeComplete(ch *proxy.Channel, h func(error)) {
	if pv := ch.PeerVersion(); pv != nil && in.Network().PendingHandshake().Contains(pv.Nonce) {
		in.Network().PendingHandshake().Remove(ch)
		h(errcode.New(errcode.AcceptFailed))
		return
	}
	in.DefaultHandshakeComplete(ch, h)
}
