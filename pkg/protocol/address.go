package protocol

import (
	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/payload"
	"github.com/k-nuth/network/pkg/proxy"
)

// AddressProtocol implements the address-gossip exchange: optionally
// advertise our own address, optionally request the peer's, forward
// anything the peer sends us into the pool, and answer at most one
// get_address request per connection.
type AddressProtocol struct {
	*Events
	cfg  Config
	pool AddressPool
}

func NewAddress(ch *proxy.Channel, cfg Config, pool AddressPool) *AddressProtocol {
	return &AddressProtocol{Events: &Events{Channel: ch}, cfg: cfg, pool: pool}
}

// Start sends our address (if self.Port != 0) and, if the pool has
// capacity, subscribes to incoming address/get_address and requests
// the peer's list once. h is never invoked with success; the protocol
// lives for the channel's lifetime and only reports via the channel's
// own stop path.
func (a *AddressProtocol) Start(h EventHandler) {
	a.Events.Start(h)

	if a.cfg.Self.Port != 0 {
		a.Channel.Send(&payload.Address{Addresses: []authority.NetworkAddress{a.cfg.Self}}, nil)
	}

	if a.cfg.HostPoolCapacity <= 0 {
		return
	}

	a.Channel.Subscribe(payload.KindAddress, func(code error, msg payload.Message) bool {
		if code != nil {
			return false
		}
		addrs := msg.(*payload.Address)
		if a.pool != nil {
			a.pool.StoreMany(addrs.Addresses, func(error) {})
		}
		return true
	})

	a.Channel.Subscribe(payload.KindGetAddress, func(code error, msg payload.Message) bool {
		if code != nil {
			return false
		}
		a.onGetAddress()
		return false // one reply per connection
	})

	a.Channel.Send(&payload.GetAddress{}, nil)
}

func (a *AddressProtocol) onGetAddress() {
	if a.pool == nil {
		return
	}
	many, err := a.pool.FetchMany()
	if err != nil {
		return
	}
	a.Channel.Send(&payload.Address{Addresses: many}, nil)
}
