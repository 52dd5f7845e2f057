package session

import (
	"net"
	"sync"
	"time"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/proxy"
	"github.com/k-nuth/network/pkg/socket"
	"go.uber.org/zap"
)

// ManualConfig carries the manual session's own settings.
type ManualConfig struct {
	// AttemptLimit bounds dial attempts per Connect call, the first dial
	// included; 0 means infinite.
	AttemptLimit int
	// ConnectTimeout bounds each individual dial attempt.
	ConnectTimeout time.Duration
	// RetryDelay is waited between a failed or dropped attempt and the
	// next re-dial.
	RetryDelay time.Duration
}

// Manual drives operator- or config-requested outbound connections
// that persist across disconnects, independent of the address pool.
type Manual struct {
	*Session
	cfg       ManualConfig
	connector *socket.Connector
}

func NewManual(net Network, cfg Config, mcfg ManualConfig, log *zap.Logger) *Manual {
	m := &Manual{cfg: mcfg}
	m.Session = New(net, cfg, Hooks{}, log)
	m.connector = socket.NewConnector(mcfg.ConnectTimeout, m.Logger())
	return m
}

// Start subscribes to the controller's stop event; it never fails.
func (m *Manual) Start(h func(error)) {
	m.Session.Start(h)
}

type manualDial struct {
	host string
	port uint16

	mu      sync.Mutex
	attempt int
	lastErr error
	fired   bool
	first   func(error)
}

func (d *manualDial) fireFirst(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fired {
		return
	}
	d.fired = true
	if d.first != nil {
		d.first(err)
	}
}

// Connect dials host:port, re-dialing on every disconnect up to the
// configured attempt limit. first, if non-nil, fires exactly once: on
// the first successful registration, or on exhaustion of the attempt
// budget with the last error observed.
func (m *Manual) Connect(host string, port uint16, first func(error)) {
	d := &manualDial{host: host, port: port, first: first}
	go m.attempt(d)
}

func (m *Manual) attempt(d *manualDial) {
	if m.Stopped() {
		d.fireFirst(errcode.New(errcode.ServiceStopped))
		return
	}
	d.mu.Lock()
	if m.cfg.AttemptLimit > 0 && d.attempt >= m.cfg.AttemptLimit {
		last := d.lastErr
		d.mu.Unlock()
		d.fireFirst(last)
		return
	}
	d.attempt++
	d.mu.Unlock()

	pcID := m.Network().PendingConnect().Add(m.connector.Stop)
	m.connector.Connect(d.host, d.port, func(conn net.Conn, err error) {
		m.Network().PendingConnect().Remove(pcID)
		if err != nil {
			d.mu.Lock()
			d.lastErr = err
			d.mu.Unlock()
			m.redial(d)
			return
		}
		m.registerDialed(conn, d)
	})
}

func (m *Manual) registerDialed(conn net.Conn, d *manualDial) {
	auth, err := authority.Parse(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
		m.redial(d)
		return
	}

	ch := proxy.NewChannel(conn, auth, m.Network().NewChannelConfig(), m.Network().Dispatch, m.Logger())
	m.RegisterChannel(ch, func(regErr error) {
		if regErr != nil {
			// RegisterChannel fires the stopped callback right after
			// this one on failure; that callback does the re-dial.
			d.mu.Lock()
			d.lastErr = regErr
			d.mu.Unlock()
			return
		}
		m.AttachOngoingProtocols(ch)
		d.fireFirst(nil)
	}, func(error) {
		m.redial(d)
	})
}

func (m *Manual) redial(d *manualDial) {
	if m.Stopped() {
		d.fireFirst(errcode.New(errcode.ServiceStopped))
		return
	}
	if m.cfg.RetryDelay > 0 {
		time.AfterFunc(m.cfg.RetryDelay, func() { m.attempt(d) })
		return
	}
	m.attempt(d)
}
