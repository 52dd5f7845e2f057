// Package hosts implements the address pool: a bounded, deduplicated
// set of known peer network addresses, persisted across restarts to a
// text file, that feeds outbound dialers and absorbs gossip from
// peers. Eviction of the oldest entry when the pool is full is backed
// by hashicorp/golang-lru, read through its non-promoting Peek and
// Contains so recency never shifts on lookup — only Add moves an
// entry, giving true insertion-order (FIFO) eviction rather than LRU.
package hosts

import (
	"bufio"
	"math/rand"
	"os"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/errcode"
	"go.uber.org/zap"
)

const maxAddresses = 1 << 20

// Pool is the bounded, deduplicated set of known peer addresses. It is
// safe for concurrent use: the cache carries its own lock for
// individual operations, and stopped/disabled transitions are guarded
// separately below.
type Pool struct {
	cache    *lru.Cache
	capacity int
	stopped  atomic.Bool
	filePath string
	disabled bool
	log      *zap.Logger
}

// New builds a Pool with the given capacity (0 disables it) and the
// file path to persist to.
func New(capacity int, filePath string, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	cap := capacity
	if cap > maxAddresses {
		cap = maxAddresses
	}
	if cap < 0 {
		cap = 0
	}
	p := &Pool{
		capacity: cap,
		filePath: filePath,
		disabled: cap == 0,
		log:      log.With(zap.String("component", "hosts")),
	}
	p.stopped.Store(true)
	if !p.disabled {
		// lru.New evicts its own least-recently-touched entry once full;
		// since nothing below ever calls Get, "touched" only ever means
		// "inserted", so eviction order is insertion order.
		c, err := lru.New(cap)
		if err != nil {
			c, _ = lru.New(1)
		}
		p.cache = c
	}
	return p
}

// Start loads the hosts file (if present) and transitions to running.
// Idempotent: a second Start while already running returns OperationFailed.
func (p *Pool) Start() error {
	if p.disabled {
		return nil
	}
	if !p.stopped.CompareAndSwap(true, false) {
		return errcode.New(errcode.OperationFailed)
	}

	f, err := os.Open(p.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errcode.Wrap(errcode.FileSystem, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		a, err := authority.Parse(line)
		if err != nil || a.Port == 0 {
			continue
		}
		addr := authority.NetworkAddress{IP: a.IP, Port: a.Port}
		key := addr.Authority().Key()
		if p.cache.Contains(key) {
			continue
		}
		p.cache.Add(key, addr)
	}
	if err := scanner.Err(); err != nil {
		return errcode.Wrap(errcode.FileSystem, err)
	}
	return nil
}

// Stop persists the buffer to the hosts file and transitions to
// stopped. Idempotent.
func (p *Pool) Stop() error {
	if p.disabled {
		return nil
	}
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}

	f, err := os.Create(p.filePath)
	if err != nil {
		return errcode.Wrap(errcode.FileSystem, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, addr := range p.snapshot() {
		if _, err := w.WriteString(authority.FromNetworkAddress(addr).String()); err != nil {
			return errcode.Wrap(errcode.FileSystem, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return errcode.Wrap(errcode.FileSystem, err)
		}
	}
	if err := w.Flush(); err != nil {
		return errcode.Wrap(errcode.FileSystem, err)
	}
	p.cache.Purge()
	return nil
}

// Count returns the number of addresses currently held.
func (p *Pool) Count() int {
	if p.disabled {
		return 0
	}
	return p.cache.Len()
}

// snapshot returns every address currently held, oldest first, without
// promoting any of them.
func (p *Pool) snapshot() []authority.NetworkAddress {
	keys := p.cache.Keys()
	out := make([]authority.NetworkAddress, 0, len(keys))
	for _, k := range keys {
		v, ok := p.cache.Peek(k)
		if !ok {
			continue
		}
		out = append(out, v.(authority.NetworkAddress))
	}
	return out
}

// FetchOne returns a uniformly random address from the pool.
func (p *Pool) FetchOne() (authority.NetworkAddress, error) {
	if p.disabled {
		return authority.NetworkAddress{}, errcode.New(errcode.NotFound)
	}
	if p.stopped.Load() {
		return authority.NetworkAddress{}, errcode.New(errcode.ServiceStopped)
	}
	keys := p.cache.Keys()
	if len(keys) == 0 {
		return authority.NetworkAddress{}, errcode.New(errcode.NotFound)
	}
	idx := rand.Intn(len(keys))
	v, ok := p.cache.Peek(keys[idx])
	if !ok {
		return authority.NetworkAddress{}, errcode.New(errcode.NotFound)
	}
	return v.(authority.NetworkAddress), nil
}

// FetchMany returns between 1 and min(size, capacity)/k entries, where
// k is drawn uniformly from {1..20}, shuffled.
func (p *Pool) FetchMany() ([]authority.NetworkAddress, error) {
	if p.disabled {
		return nil, errcode.New(errcode.NotFound)
	}
	if p.stopped.Load() {
		return nil, errcode.New(errcode.ServiceStopped)
	}
	all := p.snapshot()
	if len(all) == 0 {
		return nil, errcode.New(errcode.NotFound)
	}
	limit := len(all)
	if p.capacity < limit {
		limit = p.capacity
	}
	k := rand.Intn(20) + 1
	count := limit / k
	if count == 0 {
		count = 1
	}
	out := make([]authority.NetworkAddress, count)
	copy(out, all[:count])
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

// StoreOne inserts addr, silently rejecting invalid addresses and
// deduping by (ip, port). Eviction of the oldest entry occurs if the
// pool is at capacity.
func (p *Pool) StoreOne(addr authority.NetworkAddress) error {
	if p.disabled {
		return nil
	}
	if !addr.Valid() {
		p.log.Debug("rejected invalid address from peer")
		return nil
	}
	if p.stopped.Load() {
		return errcode.New(errcode.ServiceStopped)
	}
	key := addr.Authority().Key()
	if p.cache.Contains(key) {
		return nil
	}
	p.cache.Add(key, addr)
	return nil
}

// StoreMany accepts a strided sample of list (between capacity-size and
// min(len(list), capacity) entries) and invokes handler exactly once.
func (p *Pool) StoreMany(list []authority.NetworkAddress, handler func(error)) {
	if handler == nil {
		handler = func(error) {}
	}
	if p.disabled || len(list) == 0 {
		handler(nil)
		return
	}
	if p.stopped.Load() {
		handler(errcode.New(errcode.ServiceStopped))
		return
	}

	target := len(list)
	if p.capacity > 0 && target > p.capacity {
		target = p.capacity
	}
	if target > 0 {
		stride := len(list) / target
		if stride == 0 {
			stride = 1
		}
		taken := 0
		for i := 0; i < len(list) && taken < target; i += stride {
			if !list[i].Valid() {
				continue
			}
			key := list[i].Authority().Key()
			if p.cache.Contains(key) {
				continue
			}
			p.cache.Add(key, list[i])
			taken++
		}
	}
	handler(nil)
}

// Remove deletes addr from the pool if present.
func (p *Pool) Remove(addr authority.NetworkAddress) error {
	if p.disabled {
		return errcode.New(errcode.NotFound)
	}
	if p.stopped.Load() {
		return errcode.New(errcode.ServiceStopped)
	}
	key := addr.Authority().Key()
	if !p.cache.Contains(key) {
		return errcode.New(errcode.NotFound)
	}
	p.cache.Remove(key)
	return nil
}
