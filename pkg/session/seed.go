package session

import (
	"context"
	"net"
	"time"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/protocol"
	"github.com/k-nuth/network/pkg/proxy"
	"github.com/k-nuth/network/pkg/socket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SeedConfig carries the seed session's own settings.
type SeedConfig struct {
	Endpoints      []authority.Endpoint
	ConnectTimeout time.Duration
}

// Seed performs the one-shot bootstrap address exchange run once at
// controller start, before any persistent session begins dialing.
type Seed struct {
	*Session
	cfg SeedConfig
}

func NewSeed(net Network, cfg Config, scfg SeedConfig, log *zap.Logger) *Seed {
	s := &Seed{cfg: scfg}
	s.Session = New(net, cfg, Hooks{}, log)
	return s
}

// Start is a no-op (success) if the address pool is disabled or
// already populated; otherwise it connects to every configured seed
// concurrently and reports peer-throttling if none of them grew the
// pool.
func (s *Seed) Start(h func(error)) {
	s.Session.Start(func(error) {})

	if s.Network().NewProtocolConfig().HostPoolCapacity == 0 {
		fire(h, nil)
		return
	}

	pool := s.Network().Pool()
	before := pool.Count()
	if before > 0 {
		fire(h, nil)
		return
	}

	go s.seedAll(before, h)
}

func (s *Seed) seedAll(before int, h func(error)) {
	connector := socket.NewConnector(s.cfg.ConnectTimeout, s.Logger())
	pcID := s.Network().PendingConnect().Add(connector.Stop)

	g, _ := errgroup.WithContext(context.Background())
	for _, ep := range s.cfg.Endpoints {
		ep := ep
		g.Go(func() error {
			s.seedOne(connector, ep)
			return nil
		})
	}
	g.Wait()
	s.Network().PendingConnect().Remove(pcID)

	if s.Network().Pool().Count() > before {
		fire(h, nil)
		return
	}
	fire(h, errcode.New(errcode.PeerThrottling))
}

func (s *Seed) seedOne(connector *socket.Connector, ep authority.Endpoint) {
	done := make(chan struct{})
	connector.Connect(ep.Host, ep.Port, func(conn net.Conn, err error) {
		defer close(done)
		if err != nil {
			return
		}
		auth, perr := authority.Parse(conn.RemoteAddr().String())
		if perr != nil {
			conn.Close()
			return
		}

		ch := proxy.NewChannel(conn, auth, s.Network().NewChannelConfig(), s.Network().Dispatch, s.Logger())
		regDone := make(chan struct{})
		s.RegisterChannel(ch, func(regErr error) {
			if regErr != nil {
				close(regDone)
				return
			}
			seedProto := protocol.NewSeed(ch, s.Network().NewProtocolConfig(), s.Network().Pool())
			seedProto.Start(func(error) { close(regDone) })
		}, func(error) {})
		<-regDone
	})
	<-done
}
