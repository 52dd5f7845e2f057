package network

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/payload"
	"github.com/k-nuth/network/pkg/proxy"
	"github.com/stretchr/testify/require"
)

func TestControllerStartRunStopNoSessions(t *testing.T) {
	c := New(Config{Threads: 1}, nil, nil)
	require.NoError(t, c.Start())
	require.NoError(t, c.Run())
	require.True(t, c.Stop())
}

func TestControllerDoubleStartFails(t *testing.T) {
	c := New(Config{Threads: 1}, nil, nil)
	require.NoError(t, c.Start())
	defer c.Stop()
	require.Error(t, c.Start())
}

func TestControllerConnectBeforeStartReturnsServiceStopped(t *testing.T) {
	c := New(Config{}, nil, nil)
	done := make(chan error, 1)
	c.Connect("127.0.0.1", 1, func(err error) { done <- err })
	select {
	case err := <-done:
		require.ErrorIs(t, err, errcode.New(errcode.ServiceStopped))
	case <-time.After(time.Second):
		t.Fatal("connect before start never called back")
	}
}

func TestSeedWithZeroHandshakeTimeoutThrottles(t *testing.T) {
	seedServer := New(loopbackConfig(19601, nil), nil, nil)
	require.NoError(t, seedServer.Start())
	require.NoError(t, seedServer.Run())
	defer seedServer.Close()

	cfg := loopbackConfig(0, []authority.Endpoint{{Host: "127.0.0.1", Port: 19601}})
	cfg.HostPoolCapacity = 16
	cfg.HandshakeTimeout = 0
	cfg.GerminationTimeout = 10 * time.Millisecond
	c := New(cfg, nil, nil)

	err := c.Start()
	require.ErrorIs(t, err, errcode.New(errcode.PeerThrottling))
	c.Stop()
}

func TestTwoControllersHandshakeOverLoopback(t *testing.T) {
	server := New(loopbackConfig(19602, nil), nil, nil)
	require.NoError(t, server.Start())
	require.NoError(t, server.Run())
	defer server.Close()

	clientCfg := loopbackConfig(0, nil)
	clientCfg.Peers = []authority.Endpoint{{Host: "127.0.0.1", Port: 19602}}
	client := New(clientCfg, nil, nil)
	require.NoError(t, client.Start())
	require.NoError(t, client.Run())
	defer client.Close()

	require.Eventually(t, func() bool {
		return server.Open().Count() >= 1 && client.Open().Count() >= 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDuplicateManualConnectYieldsAddressInUse(t *testing.T) {
	server := New(loopbackConfig(19603, nil), nil, nil)
	require.NoError(t, server.Start())
	require.NoError(t, server.Run())
	defer server.Close()

	clientCfg := loopbackConfig(0, nil)
	clientCfg.ManualAttemptLimit = 1
	client := New(clientCfg, nil, nil)
	require.NoError(t, client.Start())
	require.NoError(t, client.Run())
	defer client.Close()

	first := make(chan error, 1)
	client.Connect("127.0.0.1", 19603, func(err error) { first <- err })
	require.NoError(t, <-first)

	second := make(chan error, 1)
	client.Connect("127.0.0.1", 19603, func(err error) { second <- err })

	select {
	case err := <-second:
		require.ErrorIs(t, err, errcode.New(errcode.AddressInUse))
	case <-time.After(8 * time.Second):
		t.Fatal("duplicate connect never reported address-in-use")
	}
}

func TestBroadcastFiresPerChannelOnceEachAndCompletesOnce(t *testing.T) {
	server := New(loopbackConfig(19604, nil), nil, nil)
	require.NoError(t, server.Start())
	require.NoError(t, server.Run())
	defer server.Close()

	clientCfg1 := loopbackConfig(0, nil)
	clientCfg1.Peers = []authority.Endpoint{{Host: "127.0.0.1", Port: 19604}}
	client1 := New(clientCfg1, nil, nil)
	require.NoError(t, client1.Start())
	require.NoError(t, client1.Run())
	defer client1.Close()

	clientCfg2 := loopbackConfig(0, nil)
	clientCfg2.Peers = []authority.Endpoint{{Host: "127.0.0.1", Port: 19604}}
	client2 := New(clientCfg2, nil, nil)
	require.NoError(t, client2.Start())
	require.NoError(t, client2.Run())
	defer client2.Close()

	require.Eventually(t, func() bool {
		return server.Open().Count() >= 2
	}, 5*time.Second, 50*time.Millisecond)

	var perChannelCount atomic.Int32
	var completeCount atomic.Int32
	done := make(chan struct{})

	server.Broadcast(&payload.Ping{}, func(ch *proxy.Channel, err error) {
		perChannelCount.Add(1)
	}, func(err error) {
		completeCount.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast never completed")
	}
	require.EqualValues(t, 2, perChannelCount.Load())
	require.EqualValues(t, 1, completeCount.Load())
}

func loopbackConfig(inboundPort uint16, seeds []authority.Endpoint) Config {
	return Config{
		Threads:             2,
		ProtocolMaximum:     70002,
		ProtocolMinimum:     31402,
		Identifier:          1,
		InboundPort:         inboundPort,
		InboundConnections:  16,
		OutboundConnections: 0,
		ConnectBatchSize:    1,
		ConnectTimeout:      2 * time.Second,
		HandshakeTimeout:    2 * time.Second,
		HeartbeatInterval:   time.Hour,
		GerminationTimeout:  time.Second,
		ManualAttemptLimit:  1,
		UserAgent:           "/test:1.0/",
		Seeds:               seeds,
	}
}
