// Package network implements the P2P controller: the top-level object
// that owns configuration, the address pool, the three channel
// registries, the stop and connection subscriber buses, and the four
// session kinds, tying them together per spec §4.8.
package network

import (
	"time"

	"github.com/k-nuth/network/pkg/authority"
)

// hard protocol version bounds; protocol_minimum/maximum are clamped
// into this range (spec §6).
const (
	protocolVersionFloor   = 31402
	protocolVersionCeiling = 70002
)

// Config carries every setting enumerated in spec.md §6. It is taken
// as a struct literal; this library never parses configuration itself
// (cmd/p2pnode does, from YAML).
type Config struct {
	Threads int

	ProtocolMaximum uint32
	ProtocolMinimum uint32

	Services        uint64
	InvalidServices uint64

	RelayTransactions bool
	ValidateChecksum  bool
	Identifier        uint32 // network magic

	InboundPort        uint16
	InboundConnections int
	UseIPv6            bool

	OutboundConnections int
	ConnectBatchSize    int

	ManualAttemptLimit int

	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	HeartbeatInterval  time.Duration
	InactivityTimeout  time.Duration
	ExpirationTimeout  time.Duration
	GerminationTimeout time.Duration

	HostPoolCapacity int
	HostsFile        string

	Self authority.NetworkAddress // Port == 0 means do not advertise

	Blacklist []authority.Authority

	Peers []authority.Endpoint
	Seeds []authority.Endpoint

	UserAgent          string
	UserAgentBlacklist []string

	// BestHeight supplies the start-height field sent in our version
	// message; nil falls back to the height last given to
	// Controller.SetTopBlock (0 until then).
	BestHeight func() uint32
}

// clampedVersions applies the hard protocol floor/ceiling and orders
// minimum ≤ maximum, per spec §6.
func (c Config) clampedVersions() (minimum, maximum uint32) {
	maximum = c.ProtocolMaximum
	if maximum < protocolVersionFloor {
		maximum = protocolVersionFloor
	}
	if maximum > protocolVersionCeiling {
		maximum = protocolVersionCeiling
	}
	minimum = c.ProtocolMinimum
	if minimum < protocolVersionFloor {
		minimum = protocolVersionFloor
	}
	if minimum > maximum {
		minimum = maximum
	}
	return minimum, maximum
}

// totalChannelLimit is the combined inbound+outbound+manual-peer
// ceiling the inbound session enforces on every accept (spec §4.7).
func (c Config) totalChannelLimit() int {
	return c.InboundConnections + c.OutboundConnections + len(c.Peers)
}
