package network

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/JekaMas/workerpool"
	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/hosts"
	"github.com/k-nuth/network/pkg/payload"
	"github.com/k-nuth/network/pkg/protocol"
	"github.com/k-nuth/network/pkg/proxy"
	"github.com/k-nuth/network/pkg/registry"
	"github.com/k-nuth/network/pkg/session"
	"github.com/k-nuth/network/pkg/subscriber"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const defaultThreads = 4
const defaultMaxPayload = 32 * 1024 * 1024

// Controller is the P2P network core: configuration, the address
// pool, the three channel registries, the stop and connection
// subscriber buses, and the four session kinds, per spec §4.8.
type Controller struct {
	cfg Config
	log *zap.Logger

	pool             *hosts.Pool
	pendingConnect   *registry.PendingConnect
	pendingHandshake *registry.PendingHandshake
	open             *registry.Open

	mu      sync.Mutex
	started bool
	stopBus *subscriber.StopBus
	connBus *subscriber.Resubscriber[*proxy.Channel]
	workers *workerpool.WorkerPool

	topBlock atomic.Uint32
	manual   atomic.Pointer[session.Manual]
	inbound  atomic.Pointer[session.Inbound]
	outbound atomic.Pointer[session.Outbound]

	metrics *metrics
}

// New builds a Controller. A nil logger is replaced with a no-op
// logger; a nil Prometheus registerer allocates a private registry
// (pass the caller's default registry to share it instead).
func New(cfg Config, log *zap.Logger, reg prometheus.Registerer) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		cfg:              cfg,
		log:              log.With(zap.String("component", "controller")),
		pool:             hosts.New(cfg.HostPoolCapacity, cfg.HostsFile, log),
		pendingConnect:   registry.NewPendingConnect(),
		pendingHandshake: registry.NewPendingHandshake(),
		open:             registry.NewOpen(),
		stopBus:          subscriber.NewStopBus(),
		connBus:          subscriber.NewResubscriber[*proxy.Channel](),
	}
	c.metrics = newMetrics(reg, c)
	return c
}

// --- session.Network ---

func (c *Controller) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.started
}

func (c *Controller) SubscribeStop(h func(error)) { c.currentStopBus().Subscribe(h) }

func (c *Controller) currentStopBus() *subscriber.StopBus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopBus
}

func (c *Controller) currentConnBus() *subscriber.Resubscriber[*proxy.Channel] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connBus
}

func (c *Controller) PendingConnect() *registry.PendingConnect     { return c.pendingConnect }
func (c *Controller) PendingHandshake() *registry.PendingHandshake { return c.pendingHandshake }
func (c *Controller) Open() *registry.Open                         { return c.open }

func (c *Controller) Pool() protocol.AddressPool { return c.pool }

func (c *Controller) NewChannelConfig() proxy.ChannelConfig {
	_, maximum := c.cfg.clampedVersions()
	return proxy.ChannelConfig{
		Proxy: proxy.Config{
			Magic:             c.cfg.Identifier,
			ProtocolMaximum:   maximum,
			MaxPayloadBase:    defaultMaxPayload,
			MaxPayloadWitness: defaultMaxPayload,
			ValidateChecksum:  c.cfg.ValidateChecksum,
		},
		InactivityTimeout: c.cfg.InactivityTimeout,
		ExpirationTimeout: c.cfg.ExpirationTimeout,
		OnMessage:         func() { c.metrics.messagesReceived.Inc() },
	}
}

func (c *Controller) NewProtocolConfig() protocol.Config {
	minimum, maximum := c.cfg.clampedVersions()
	return protocol.Config{
		OwnVersion:         maximum,
		OwnServices:        c.cfg.Services,
		InvalidServices:    c.cfg.InvalidServices,
		MinimumServices:    c.cfg.Services,
		MinimumVersion:     minimum,
		Self:               c.cfg.Self,
		RelayTransactions:  c.cfg.RelayTransactions,
		UserAgent:          c.cfg.UserAgent,
		UserAgentBlacklist: c.cfg.UserAgentBlacklist,
		BestHeight:         c.bestHeight,
		HandshakeTimeout:   c.cfg.HandshakeTimeout,
		HeartbeatInterval:  c.cfg.HeartbeatInterval,
		GerminationTimeout: c.cfg.GerminationTimeout,
		HostPoolCapacity:   c.cfg.HostPoolCapacity,
	}
}

func (c *Controller) bestHeight() uint32 {
	if c.cfg.BestHeight != nil {
		return c.cfg.BestHeight()
	}
	return c.topBlock.Load()
}

func (c *Controller) Dispatch(f func()) {
	c.mu.Lock()
	wp := c.workers
	c.mu.Unlock()
	if wp == nil {
		go f()
		return
	}
	wp.Submit(context.Background(), func() error {
		f()
		return nil
	}, workerpool.NoTimeout)
}

func (c *Controller) NotifyChannel(ch *proxy.Channel) {
	c.currentConnBus().Publish(nil, ch)
}

func (c *Controller) Logger() *zap.Logger { return c.log }

// SetTopBlock updates the checkpoint advertised as our version
// message's start-height, used when Config.BestHeight is nil.
func (c *Controller) SetTopBlock(height uint32) { c.topBlock.Store(height) }

// --- lifecycle, spec §4.8 ---

// Start respawns the worker pool, starts both subscriber buses, and
// brings up the manual and seed sessions. Any step failing aborts the
// whole sequence.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errcode.New(errcode.OperationFailed)
	}
	threads := c.cfg.Threads
	if threads <= 0 {
		threads = defaultThreads
	}
	if c.workers != nil {
		c.workers.StopWait()
	}
	c.workers = workerpool.New(threads)
	c.stopBus = subscriber.NewStopBus()
	c.connBus = subscriber.NewResubscriber[*proxy.Channel]()
	c.started = true
	c.mu.Unlock()

	manual := session.NewManual(c, session.Config{Notify: true}, session.ManualConfig{
		AttemptLimit:   c.cfg.ManualAttemptLimit,
		ConnectTimeout: c.cfg.ConnectTimeout,
		RetryDelay:     c.cfg.ConnectTimeout,
	}, c.log)

	var startErr error
	manual.Start(func(err error) { startErr = err })
	if startErr != nil {
		return startErr
	}
	c.manual.Store(manual)

	if err := c.pool.Start(); err != nil {
		return err
	}

	seed := session.NewSeed(c, session.Config{}, session.SeedConfig{
		Endpoints:      c.cfg.Seeds,
		ConnectTimeout: c.cfg.ConnectTimeout,
	}, c.log)

	seedDone := make(chan error, 1)
	seed.Start(func(err error) { seedDone <- err })
	return <-seedDone
}

// Run dials every configured manual peer, then brings up the inbound
// and outbound sessions.
func (c *Controller) Run() error {
	if manual := c.manual.Load(); manual != nil {
		for _, peer := range c.cfg.Peers {
			manual.Connect(peer.Host, peer.Port, nil)
		}
	}

	blacklistIPs := make([]net.IP, 0, len(c.cfg.Blacklist))
	for _, b := range c.cfg.Blacklist {
		blacklistIPs = append(blacklistIPs, b.IP)
	}

	inbound := session.NewInbound(c, session.Config{Notify: true}, session.InboundConfig{
		Port:            c.cfg.InboundPort,
		UseIPv6:         c.cfg.UseIPv6,
		ConnectionLimit: c.cfg.InboundConnections,
		TotalLimit:      c.cfg.totalChannelLimit(),
		Blacklist:       blacklistIPs,
	}, c.log)

	var inErr error
	inbound.Start(func(err error) { inErr = err })
	if inErr != nil {
		return inErr
	}
	c.inbound.Store(inbound)

	outbound := session.NewOutbound(c, session.Config{Notify: true}, session.OutboundConfig{
		Connections:    c.cfg.OutboundConnections,
		BatchSize:      c.cfg.ConnectBatchSize,
		ConnectTimeout: c.cfg.ConnectTimeout,
	}, c.log)
	outbound.Start(nil)
	c.outbound.Store(outbound)

	return nil
}

// Connect requests a manual outbound connection via the controller's
// manual session. Called before Start (or after Stop), it reports
// service-stopped immediately.
func (c *Controller) Connect(host string, port uint16, h func(error)) {
	manual := c.manual.Load()
	if manual == nil {
		if h != nil {
			h(errcode.New(errcode.ServiceStopped))
		}
		return
	}
	manual.Connect(host, port, h)
}

// Stop is idempotent and non-blocking: it persists the address pool,
// closes both subscriber buses, and signals every registry to stop.
// The returned bool mirrors spec §4.8 ("the boolean result is the only
// way stop can fail"): true on a clean pool save.
func (c *Controller) Stop() bool {
	saveErr := c.pool.Stop()

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return saveErr == nil
	}
	c.started = false
	workers := c.workers
	c.mu.Unlock()

	c.manual.Store(nil)

	c.currentStopBus().StopWith(errcode.New(errcode.ServiceStopped))
	c.currentConnBus().Stop(errcode.New(errcode.ServiceStopped), nil)

	c.pendingConnect.StopAll()
	c.pendingHandshake.StopAll()
	c.open.StopAll()

	if workers != nil {
		workers.Stop()
	}

	return saveErr == nil
}

// Close stops the controller, then blocks until the worker pool fully
// drains.
func (c *Controller) Close() bool {
	ok := c.Stop()
	c.mu.Lock()
	workers := c.workers
	c.mu.Unlock()
	if workers != nil {
		workers.StopWait()
	}
	return ok
}

// Broadcast sends msg on every open channel. perChannel, if non-nil,
// fires once per channel on completion; complete fires once every send
// has finished (in any order) with the first error observed, if any.
// No pre-serialization: each channel serializes at its own negotiated
// version.
func (c *Controller) Broadcast(msg payload.Message, perChannel func(*proxy.Channel, error), complete func(error)) {
	channels := c.open.Snapshot()
	if len(channels) == 0 {
		if complete != nil {
			complete(nil)
		}
		return
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, ch := range channels {
		wg.Add(1)
		ch.Send(msg, func(err error) {
			c.metrics.messagesSent.Inc()
			if perChannel != nil {
				perChannel(ch, err)
			}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			wg.Done()
		})
	}

	go func() {
		wg.Wait()
		if complete != nil {
			complete(firstErr)
		}
	}()
}

// Subscribe registers h on the connection bus: it fires once per
// successfully-registered, notify-enabled channel and stays subscribed
// while it returns true.
func (c *Controller) Subscribe(h func(ch *proxy.Channel) bool) {
	c.currentConnBus().Subscribe(func(code error, ch *proxy.Channel) bool {
		if code != nil {
			return false
		}
		return h(ch)
	}, errcode.New(errcode.ServiceStopped), nil)
}
