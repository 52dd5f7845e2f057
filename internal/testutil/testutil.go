// Package testutil holds small test doubles shared across the
// network core's package tests, grounded on the teacher's own
// internal/fakechain convention of one small in-memory stand-in per
// external dependency instead of a mocking framework.
package testutil

import (
	"sync"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
)

// MemoryPool is an in-memory stand-in for protocol.AddressPool /
// hosts.Pool, safe for concurrent use, with no persistence and no
// capacity bound.
type MemoryPool struct {
	mu    sync.Mutex
	Addrs []authority.NetworkAddress
}

func (p *MemoryPool) FetchOne() (authority.NetworkAddress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Addrs) == 0 {
		return authority.NetworkAddress{}, errcode.New(errcode.NotFound)
	}
	return p.Addrs[0], nil
}

func (p *MemoryPool) FetchMany() ([]authority.NetworkAddress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]authority.NetworkAddress, len(p.Addrs))
	copy(out, p.Addrs)
	return out, nil
}

func (p *MemoryPool) StoreMany(list []authority.NetworkAddress, handler func(error)) {
	p.mu.Lock()
	p.Addrs = append(p.Addrs, list...)
	p.mu.Unlock()
	if handler != nil {
		handler(nil)
	}
}

func (p *MemoryPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Addrs)
}
