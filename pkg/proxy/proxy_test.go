package proxy

import (
	"net"
	"testing"
	"time"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/payload"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Magic:            0xd9b4bef9,
		ProtocolMaximum:  70002,
		MaxPayloadBase:   1 << 20,
		ValidateChecksum: true,
	}
}

func connReadDrain(conn net.Conn) {
	b := make([]byte, 4096)
	for {
		if _, err := conn.Read(b); err != nil {
			return
		}
	}
}

func TestProxyStartInvokesHandlerBeforeFirstRead(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	go connReadDrain(client)

	p := New(server, authority.Authority{}, testConfig(), nil, Hooks{}, nil)

	called := make(chan error, 1)
	p.Start(func(err error) { called <- err })

	select {
	case err := <-called:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("start handler never called")
	}
}

func TestProxySendAndReceive(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	p := New(server, authority.Authority{}, testConfig(), nil, Hooks{}, nil)
	p.Start(func(error) {})

	received := make(chan *payload.Verack, 1)
	p.Subscribe(payload.KindVerack, func(code error, msg payload.Message) bool {
		if v, ok := msg.(*payload.Verack); ok {
			received <- v
		}
		return true
	})

	framed, err := payload.Frame(testConfig().Magic, 70002, &payload.Verack{})
	require.NoError(t, err)
	go client.Write(framed)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("never received verack")
	}
}

func TestProxyStopBroadcastsAndFiresOnce(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	go connReadDrain(client)

	p := New(server, authority.Authority{}, testConfig(), nil, Hooks{}, nil)
	p.Start(func(error) {})

	stopCalls := 0
	p.SubscribeStop(func(code error) { stopCalls++ })

	msgStopCalls := 0
	p.Subscribe(payload.KindPing, func(code error, msg payload.Message) bool {
		msgStopCalls++
		return true
	})

	want := errcode.New(errcode.ChannelTimeout)
	p.Stop(want)
	p.Stop(errcode.New(errcode.BadStream))

	require.Equal(t, 1, stopCalls)
	require.Equal(t, 1, msgStopCalls)
	require.True(t, p.Stopped())
}

func TestProxyBadMagicStopsWithBadStream(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	p := New(server, authority.Authority{}, testConfig(), nil, Hooks{}, nil)
	var gotCode error
	p.SubscribeStop(func(code error) { gotCode = code })
	p.Start(func(error) {})

	badHeading := payload.Heading{Magic: 0xbadc0de, Command: payload.KindPing, Length: 0}
	go client.Write(badHeading.Encode())

	require.Eventually(t, func() bool { return gotCode != nil }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, gotCode, errcode.New(errcode.BadStream))
}

func TestProxyOversizedPayloadStopsWithBadStream(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	cfg := testConfig()
	cfg.MaxPayloadBase = 10
	p := New(server, authority.Authority{}, cfg, nil, Hooks{}, nil)
	var gotCode error
	p.SubscribeStop(func(code error) { gotCode = code })
	p.Start(func(error) {})

	h := payload.Heading{Magic: cfg.Magic, Command: payload.KindPing, Length: 1000}
	go client.Write(h.Encode())

	require.Eventually(t, func() bool { return gotCode != nil }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, gotCode, errcode.New(errcode.BadStream))
}

func TestProxyBadChecksumStopsWithBadStream(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	p := New(server, authority.Authority{}, testConfig(), nil, Hooks{}, nil)
	var gotCode error
	p.SubscribeStop(func(code error) { gotCode = code })
	p.Start(func(error) {})

	h := payload.Heading{Magic: testConfig().Magic, Command: payload.KindVerack, Length: 0, Checksum: [4]byte{9, 9, 9, 9}}
	go client.Write(h.Encode())

	require.Eventually(t, func() bool { return gotCode != nil }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, gotCode, errcode.New(errcode.BadStream))
}

func TestProxySendAfterStopFails(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	go connReadDrain(client)

	p := New(server, authority.Authority{}, testConfig(), nil, Hooks{}, nil)
	p.Start(func(error) {})
	p.Stop(errcode.New(errcode.ServiceStopped))

	done := make(chan error, 1)
	p.Send(&payload.Verack{}, func(err error) { done <- err })
	require.ErrorIs(t, <-done, errcode.New(errcode.ChannelStopped))
}

func TestChannelInactivityTimerResetsOnActivity(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	cfg := ChannelConfig{Proxy: testConfig(), InactivityTimeout: 50 * time.Millisecond}
	ch := NewChannel(server, authority.Authority{}, cfg, nil, nil)

	var stopCode error
	ch.SubscribeStop(func(code error) { stopCode = code })
	ch.Start(func(error) {})

	// Keep sending pings faster than the inactivity timeout fires.
	for i := 0; i < 5; i++ {
		framed, _ := payload.Frame(testConfig().Magic, 70002, &payload.Ping{})
		client.Write(framed)
		time.Sleep(20 * time.Millisecond)
	}
	require.Nil(t, stopCode)
	ch.Stop(errcode.New(errcode.ServiceStopped))
}

func TestChannelInactivityTimeoutStopsChannel(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	go connReadDrain(client)

	cfg := ChannelConfig{Proxy: testConfig(), InactivityTimeout: 20 * time.Millisecond}
	ch := NewChannel(server, authority.Authority{}, cfg, nil, nil)

	var stopCode error
	ch.SubscribeStop(func(code error) { stopCode = code })
	ch.Start(func(error) {})

	require.Eventually(t, func() bool { return stopCode != nil }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, stopCode, errcode.New(errcode.ChannelTimeout))
}

func TestChannelNonceAndNotify(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	go connReadDrain(client)

	ch := NewChannel(server, authority.Authority{}, ChannelConfig{Proxy: testConfig()}, nil, nil)
	n1 := ch.Nonce()
	ch.ResetNonce()
	n2 := ch.Nonce()
	require.NotEqual(t, n1, n2)

	require.False(t, ch.Notify())
	ch.SetNotify(true)
	require.True(t, ch.Notify())

	require.Nil(t, ch.PeerVersion())
	pv := &payload.PeerVersion{Version: 70002}
	ch.SetPeerVersion(pv)
	require.Equal(t, pv, ch.PeerVersion())

	ch.Stop(errcode.New(errcode.ServiceStopped))
}
