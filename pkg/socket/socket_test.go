package socket

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/k-nuth/network/pkg/errcode"
	"github.com/stretchr/testify/require"
)

func TestAcceptorListenAndAccept(t *testing.T) {
	a := NewAcceptor(nil)
	require.NoError(t, a.Listen(0, false))
	defer a.Stop()

	port := a.listener.Addr().(*net.TCPAddr).Port

	done := make(chan error, 1)
	a.Accept(func(conn net.Conn, err error) {
		done <- err
		if conn != nil {
			conn.Close()
		}
	})

	client, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer client.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accept")
	}
}

func TestAcceptorStopCancelsPendingAccept(t *testing.T) {
	a := NewAcceptor(nil)
	require.NoError(t, a.Listen(0, false))

	done := make(chan error, 1)
	a.Accept(func(conn net.Conn, err error) { done <- err })
	a.Stop()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}

func TestAcceptorDoubleListenFails(t *testing.T) {
	a := NewAcceptor(nil)
	require.NoError(t, a.Listen(0, false))
	defer a.Stop()
	require.ErrorIs(t, a.Listen(0, false), errcode.New(errcode.OperationFailed))
}

func TestConnectorConnectSuccess(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	port := l.Addr().(*net.TCPAddr).Port
	c := NewConnector(time.Second, nil)

	done := make(chan error, 1)
	c.Connect("127.0.0.1", uint16(port), func(conn net.Conn, err error) {
		done <- err
		if conn != nil {
			conn.Close()
		}
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect")
	}
}

func TestConnectorStopBeforeConnect(t *testing.T) {
	c := NewConnector(time.Second, nil)
	c.Stop()

	done := make(chan error, 1)
	c.Connect("127.0.0.1", 1, func(conn net.Conn, err error) { done <- err })

	err := <-done
	require.ErrorIs(t, err, errcode.New(errcode.ServiceStopped))
}

func TestConnectorTimeout(t *testing.T) {
	// 10.255.255.1 is a non-routable address commonly used to force a
	// connect timeout in tests without relying on external hosts.
	c := NewConnector(50*time.Millisecond, nil)
	done := make(chan error, 1)
	c.Connect("10.255.255.1", 1, func(conn net.Conn, err error) { done <- err })

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connector timeout")
	}
}
