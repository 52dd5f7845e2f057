package protocol

import (
	"sync"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/payload"
	"github.com/k-nuth/network/pkg/proxy"
)

// SeedProtocol drives the one-shot address exchange used against a
// seed peer: advertise our address (if configured), request theirs,
// wait for their reply, store it, then stop the channel regardless of
// outcome.
type SeedProtocol struct {
	*Timer
	cfg  Config
	pool AddressPool

	mu       sync.Mutex
	required int
	reached  int
	done     bool
}

func NewSeed(ch *proxy.Channel, cfg Config, pool AddressPool) *SeedProtocol {
	required := 2 // get_address sent + address received
	if cfg.Self.Port != 0 {
		required = 3 // + own-address sent
	}
	return &SeedProtocol{Timer: NewTimer(ch, false), cfg: cfg, pool: pool, required: required}
}

// Start begins the sequence under a single bounded germination timer.
// h fires exactly once, with success once every required step
// completes or with the first error (including germination timeout).
// Either way, the channel is stopped once h fires.
func (s *SeedProtocol) Start(h EventHandler) {
	wrapped := func(code error) {
		s.Channel.Stop(code)
		h(code)
	}
	s.StartTimer(s.cfg.GerminationTimeout, func(code error) {
		s.complete(code, wrapped)
	})

	if s.cfg.Self.Port != 0 {
		s.Channel.Send(&payload.Address{Addresses: []authority.NetworkAddress{s.cfg.Self}}, func(err error) {
			s.step(err, wrapped)
		})
	}

	s.Channel.Subscribe(payload.KindAddress, func(code error, msg payload.Message) bool {
		if code != nil {
			s.step(code, wrapped)
			return false
		}
		addrs := msg.(*payload.Address)
		if s.pool != nil {
			s.pool.StoreMany(addrs.Addresses, func(storeErr error) {
				s.step(storeErr, wrapped)
			})
		} else {
			s.step(nil, wrapped)
		}
		return false
	})

	s.Channel.Send(&payload.GetAddress{}, func(err error) {
		s.step(err, wrapped)
	})
}

func (s *SeedProtocol) step(err error, complete EventHandler) {
	if err != nil {
		s.complete(err, complete)
		return
	}
	s.mu.Lock()
	s.reached++
	done := s.reached >= s.required
	s.mu.Unlock()
	if done {
		s.complete(nil, complete)
	}
}

func (s *SeedProtocol) complete(code error, complete EventHandler) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()

	s.CancelTimer()
	complete(code)
}
