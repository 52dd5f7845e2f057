// Package socket implements the Acceptor and Connector socket
// factories: thin, reusable wrappers around net.Listen/net.Dial that
// add per-attempt timeouts and cooperative cancellation.
package socket

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/k-nuth/network/pkg/errcode"
	"go.uber.org/zap"
)

// AcceptHandler receives the result of one queued accept.
type AcceptHandler func(conn net.Conn, err error)

// Acceptor binds one listening socket and serializes accepts on it.
// Not safe for concurrent Listen/Accept calls; Stop is safe to call
// concurrently with an in-flight Accept.
type Acceptor struct {
	log      *zap.Logger
	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	cancel   context.CancelFunc
}

func NewAcceptor(log *zap.Logger) *Acceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Acceptor{log: log.With(zap.String("component", "acceptor"))}
}

// Listen binds port on an IPv6-or-IPv4 wildcard address per useIPv6,
// with SO_REUSEADDR semantics (the Go net package sets this by default
// for TCP listeners).
func (a *Acceptor) Listen(port uint16, useIPv6 bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return errcode.New(errcode.OperationFailed)
	}
	network := "tcp4"
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	if useIPv6 {
		network = "tcp6"
		addr = fmt.Sprintf("[::]:%d", port)
	}
	l, err := net.Listen(network, addr)
	if err != nil {
		return errcode.Wrap(errcode.OperationFailed, err)
	}
	a.listener = l
	return nil
}

// Accept queues one asynchronous accept. handler is invoked exactly
// once, on a new goroutine, with the resulting connection or an error.
func (a *Acceptor) Accept(handler AcceptHandler) {
	a.mu.Lock()
	l := a.listener
	stopped := a.stopped
	a.mu.Unlock()

	if stopped || l == nil {
		handler(nil, errcode.New(errcode.ServiceStopped))
		return
	}

	go func() {
		conn, err := l.Accept()
		if err != nil {
			a.mu.Lock()
			wasStopped := a.stopped
			a.mu.Unlock()
			if wasStopped {
				handler(nil, errcode.New(errcode.ServiceStopped))
				return
			}
			handler(nil, errcode.Wrap(errcode.AcceptFailed, err))
			return
		}
		handler(conn, nil)
	}()
}

// Stop cancels any outstanding accept by closing the listener; the
// pending Accept's handler observes a ServiceStopped error.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			a.log.Debug("closing listener", zap.Error(err))
		}
	}
}
