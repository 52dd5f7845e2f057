package registry

import (
	"net"
	"testing"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/proxy"
	"github.com/stretchr/testify/require"
)

func testChannel(t *testing.T, auth authority.Authority) *proxy.Channel {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	go func() {
		b := make([]byte, 4096)
		for {
			if _, err := client.Read(b); err != nil {
				return
			}
		}
	}()
	cfg := proxy.ChannelConfig{Proxy: proxy.Config{Magic: 1, ProtocolMaximum: 70002, MaxPayloadBase: 1 << 20}}
	ch := proxy.NewChannel(server, auth, cfg, nil, nil)
	ch.Start(func(error) {})
	t.Cleanup(func() { ch.Stop(errcode.New(errcode.ServiceStopped)) })
	return ch
}

func TestOpenRejectsDuplicateAuthority(t *testing.T) {
	auth := authority.Authority{IP: net.ParseIP("1.2.3.4"), Port: 1}
	open := NewOpen()
	ch1 := testChannel(t, auth)
	ch2 := testChannel(t, auth)

	require.NoError(t, open.Insert(ch1))
	require.ErrorIs(t, open.Insert(ch2), errcode.New(errcode.AddressInUse))
	require.Equal(t, 1, open.Count())

	open.Remove(auth)
	require.NoError(t, open.Insert(ch2))
}

func TestPendingHandshakeLookupByNonce(t *testing.T) {
	auth := authority.Authority{IP: net.ParseIP("1.2.3.4"), Port: 1}
	ch := testChannel(t, auth)
	ph := NewPendingHandshake()
	require.NoError(t, ph.Insert(ch))
	require.True(t, ph.Contains(ch.Nonce()))
	ph.Remove(ch)
	require.False(t, ph.Contains(ch.Nonce()))
}

func TestPendingConnectCancelsOnStopAll(t *testing.T) {
	pc := NewPendingConnect()
	cancelled := false
	id := pc.Add(func() { cancelled = true })
	pc.StopAll()
	require.True(t, cancelled)
	pc.Remove(id) // no-op, already cleared
}

func TestOpenSnapshotIsPointInTime(t *testing.T) {
	auth1 := authority.Authority{IP: net.ParseIP("1.1.1.1"), Port: 1}
	auth2 := authority.Authority{IP: net.ParseIP("2.2.2.2"), Port: 2}
	open := NewOpen()
	require.NoError(t, open.Insert(testChannel(t, auth1)))
	require.NoError(t, open.Insert(testChannel(t, auth2)))
	require.Len(t, open.Snapshot(), 2)
}
