package socket

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/k-nuth/network/pkg/errcode"
	"go.uber.org/zap"
)

// ConnectHandler receives the result of one Connect call.
type ConnectHandler func(conn net.Conn, err error)

// Connector races a TCP connect attempt against a configured timeout.
// Reusable across many Connect calls; Stop flips a flag observed by
// every in-flight and future attempt.
type Connector struct {
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	stopped bool
}

func NewConnector(timeout time.Duration, log *zap.Logger) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{
		log:     log.With(zap.String("component", "connector")),
		timeout: timeout,
	}
}

// Connect resolves host:port and races the dial against the connect
// timeout; handler is invoked exactly once, on a new goroutine.
func (c *Connector) Connect(host string, port uint16, handler ConnectHandler) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		handler(nil, errcode.New(errcode.ServiceStopped))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)

		c.mu.Lock()
		stoppedNow := c.stopped
		c.mu.Unlock()

		if stoppedNow {
			if conn != nil {
				_ = conn.Close()
			}
			handler(nil, errcode.New(errcode.ServiceStopped))
			return
		}
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				handler(nil, errcode.New(errcode.ChannelTimeout))
				return
			}
			dnsErr := &net.DNSError{}
			if isDNSError(err, dnsErr) {
				handler(nil, errcode.Wrap(errcode.ResolveFailed, err))
				return
			}
			handler(nil, errcode.Wrap(errcode.OperationFailed, err))
			return
		}
		handler(conn, nil)
	}()
}

func isDNSError(err error, target *net.DNSError) bool {
	for err != nil {
		if e, ok := err.(*net.DNSError); ok {
			*target = *e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Stop flips the stopped flag observed by every Connect caller; it
// does not forcibly abort dials already past resolution (the racing
// timeout in Connect still bounds their lifetime).
func (c *Connector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}
