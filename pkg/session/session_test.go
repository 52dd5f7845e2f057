package session

import (
	"net"
	"testing"
	"time"

	"github.com/k-nuth/network/internal/testutil"
	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/protocol"
	"github.com/k-nuth/network/pkg/proxy"
	"github.com/k-nuth/network/pkg/payload"
	"github.com/k-nuth/network/pkg/registry"
	"github.com/k-nuth/network/pkg/subscriber"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNetwork struct {
	stopBus *subscriber.StopBus
	pc      *registry.PendingConnect
	ph      *registry.PendingHandshake
	open    *registry.Open
	pool    *testutil.MemoryPool
	pCfg    protocol.Config
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		stopBus: subscriber.NewStopBus(),
		pc:      registry.NewPendingConnect(),
		ph:      registry.NewPendingHandshake(),
		open:    registry.NewOpen(),
		pool:    &testutil.MemoryPool{},
		pCfg: protocol.Config{
			OwnVersion:         70002,
			HandshakeTimeout:   time.Second,
			HeartbeatInterval:  time.Hour,
			GerminationTimeout: time.Second,
			HostPoolCapacity:   10,
		},
	}
}

func (n *fakeNetwork) Stopped() bool                       { return n.stopBus.Stopped() }
func (n *fakeNetwork) SubscribeStop(h func(error))          { n.stopBus.Subscribe(h) }
func (n *fakeNetwork) PendingConnect() *registry.PendingConnect     { return n.pc }
func (n *fakeNetwork) PendingHandshake() *registry.PendingHandshake { return n.ph }
func (n *fakeNetwork) Open() *registry.Open                 { return n.open }
func (n *fakeNetwork) Pool() protocol.AddressPool            { return n.pool }
func (n *fakeNetwork) NewChannelConfig() proxy.ChannelConfig {
	return proxy.ChannelConfig{Proxy: proxy.Config{Magic: 1, ProtocolMaximum: 70002, MaxPayloadBase: 1 << 20}}
}
func (n *fakeNetwork) NewProtocolConfig() protocol.Config { return n.pCfg }
func (n *fakeNetwork) Dispatch(f func())               { go f() }
func (n *fakeNetwork) NotifyChannel(ch *proxy.Channel) {}
func (n *fakeNetwork) Logger() *zap.Logger             { return zap.NewNop() }

func TestRegisterChannelFailsFastWhenStopped(t *testing.T) {
	fn := newFakeNetwork()
	fn.stopBus.StopWith(errcode.New(errcode.ServiceStopped))

	s := New(fn, Config{}, Hooks{}, nil)
	server, client := netPipe(t)
	defer client.Close()
	ch := proxy.NewChannel(server, authority.Authority{}, fn.NewChannelConfig(), nil, nil)

	var startedErr, stoppedErr error
	s.RegisterChannel(ch, func(e error) { startedErr = e }, func(e error) { stoppedErr = e })

	require.ErrorIs(t, startedErr, errcode.New(errcode.ServiceStopped))
	require.ErrorIs(t, stoppedErr, errcode.New(errcode.ServiceStopped))
}

func TestRegisterChannelCompletesHandshakeAndOpensChannel(t *testing.T) {
	fn := newFakeNetwork()
	s := New(fn, Config{Notify: true}, Hooks{}, nil)

	server, client := netPipe(t)
	defer client.Close()
	ch := proxy.NewChannel(server, authority.Authority{IP: net.ParseIP("1.2.3.4"), Port: 1}, fn.NewChannelConfig(), nil, nil)

	go driveHandshake(client, fn.pCfg.OwnVersion)

	started := make(chan error, 1)
	s.RegisterChannel(ch, func(e error) { started <- e }, func(error) {})

	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("registration never completed")
	}
	require.Equal(t, 1, fn.open.Count())
}

func netPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	return server, client
}

func driveHandshake(conn net.Conn, version uint32) {
	buf := make([]byte, 4096)
	conn.Read(buf) // consume our version

	peer := &payload.Version{Value: version, Services: 0}
	framed, _ := payload.Frame(1, version, peer)
	conn.Write(framed)

	conn.Read(buf) // consume our verack
	ack, _ := payload.Frame(1, version, &payload.Verack{})
	conn.Write(ack)

	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
