package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/proxy"
	"github.com/k-nuth/network/pkg/socket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OutboundConfig carries the outbound session's own settings.
type OutboundConfig struct {
	// Connections is the number of parallel dialer loops (N).
	Connections int
	// BatchSize is the number of addresses raced per batch.
	BatchSize int
	// ConnectTimeout bounds each dial and is also the retry delay after
	// a batch that raised no successful connection.
	ConnectTimeout time.Duration
}

// Outbound maintains Connections persistent peer connections sourced
// from the address pool, each dialer racing a batch of candidates and
// re-batching whenever its current channel closes.
type Outbound struct {
	*Session
	cfg      OutboundConfig
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewOutbound(net Network, cfg Config, ocfg OutboundConfig, log *zap.Logger) *Outbound {
	o := &Outbound{cfg: ocfg, stopCh: make(chan struct{})}
	o.Session = New(net, cfg, Hooks{}, log)
	return o
}

// Start spawns Connections parallel dialer loops and returns
// immediately; it never fails.
func (o *Outbound) Start(h func(error)) {
	o.Session.Start(func(error) {})
	o.SubscribeStop(func(error) { o.stopOnce.Do(func() { close(o.stopCh) }) })

	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < o.cfg.Connections; i++ {
		g.Go(func() error {
			o.dialerLoop()
			return nil
		})
	}

	if h != nil {
		h(nil)
	}
}

func (o *Outbound) dialerLoop() {
	for {
		select {
		case <-o.stopCh:
			return
		default:
		}

		delay := o.batchConnect()
		if delay <= 0 {
			continue
		}
		select {
		case <-time.After(delay):
		case <-o.stopCh:
			return
		}
	}
}

// batchConnect fetches up to BatchSize addresses from the pool and
// races one connector per address; the first successful dial is
// registered, the rest are dropped once they land. It blocks until
// the winning channel closes (or registration fails), then returns 0
// so the caller re-batches immediately. If no address was available or
// every dial failed, it returns ConnectTimeout as the retry delay.
func (o *Outbound) batchConnect() time.Duration {
	batch := o.collectBatch()
	if len(batch) == 0 {
		return o.cfg.ConnectTimeout
	}

	connector := socket.NewConnector(o.cfg.ConnectTimeout, o.Logger())
	pcID := o.Network().PendingConnect().Add(connector.Stop)
	won := make(chan *proxy.Channel, 1)
	var winMu sync.Mutex
	var takenWinner bool

	g, _ := errgroup.WithContext(context.Background())
	for _, addr := range batch {
		addr := addr
		g.Go(func() error {
			connectDone := make(chan struct{})
			connector.Connect(addr.IP.String(), addr.Port, func(conn net.Conn, err error) {
				defer close(connectDone)
				if err != nil {
					return
				}
				winMu.Lock()
				if takenWinner {
					winMu.Unlock()
					conn.Close()
					return
				}
				takenWinner = true
				winMu.Unlock()
				connector.Stop()

				auth := authority.New(addr.IP, addr.Port)
				ch := proxy.NewChannel(conn, auth, o.Network().NewChannelConfig(), o.Network().Dispatch, o.Logger())
				won <- ch
			})
			<-connectDone
			return nil
		})
	}
	g.Wait()
	close(won)
	o.Network().PendingConnect().Remove(pcID)

	ch, ok := <-won
	if !ok {
		return o.cfg.ConnectTimeout
	}

	stopped := make(chan error, 1)
	o.RegisterChannel(ch, func(err error) {
		if err == nil {
			o.AttachOngoingProtocols(ch)
		}
	}, func(code error) {
		stopped <- code
	})
	<-stopped
	return 0
}

func (o *Outbound) collectBatch() []authority.NetworkAddress {
	out := make([]authority.NetworkAddress, 0, o.cfg.BatchSize)
	seen := make(map[string]bool, o.cfg.BatchSize)
	for i := 0; i < o.cfg.BatchSize; i++ {
		addr, err := o.Network().Pool().FetchOne()
		if err != nil {
			break
		}
		key := addr.Authority().Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, addr)
	}
	return out
}
