package protocol

import (
	"time"

	"github.com/k-nuth/network/pkg/authority"
)

// AddressPool is the subset of the hosts pool the address and seed
// protocols need. Declared here (rather than importing pkg/hosts
// directly) to keep protocol decoupled from the pool's persistence
// concerns.
type AddressPool interface {
	FetchOne() (authority.NetworkAddress, error)
	FetchMany() ([]authority.NetworkAddress, error)
	StoreMany(list []authority.NetworkAddress, handler func(error))
	Count() int
}

// Config carries the handshake and protocol-level settings every
// concrete protocol needs. It is built once by the controller/session
// layer from the library's top-level Config.
type Config struct {
	OwnVersion   uint32
	OwnServices  uint64

	InvalidServices uint64
	MinimumServices uint64
	MinimumVersion  uint32

	Self              authority.NetworkAddress // Port == 0 means "do not advertise"
	RelayTransactions bool
	UserAgent         string
	UserAgentBlacklist []string

	BestHeight func() uint32

	HandshakeTimeout   time.Duration
	HeartbeatInterval  time.Duration
	GerminationTimeout time.Duration

	HostPoolCapacity int
}

// Sufficient implements the version protocol's peer-acceptability
// check from spec §4.6:
//
//	(peer.services & invalid) == 0 AND
//	(peer.services & minimum) == minimum AND
//	peer.version >= minimum_version
func (c Config) Sufficient(peerServices uint64, peerVersion uint32) (bool, string) {
	if peerServices&c.InvalidServices != 0 {
		return false, "insufficient-services"
	}
	if peerServices&c.MinimumServices != c.MinimumServices {
		return false, "insufficient-services"
	}
	if peerVersion < c.MinimumVersion {
		return false, "insufficient-version"
	}
	return true, ""
}
