package main

import (
	"fmt"
	"os"
	"time"

	"github.com/k-nuth/network/pkg/authority"
	"github.com/k-nuth/network/pkg/network"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML-shaped settings file, mirroring the teacher's
// ApplicationConfiguration/P2P split: plain fields, no defaults applied
// at unmarshal time, everything resolved afterward in toControllerConfig.
type fileConfig struct {
	Threads int `yaml:"Threads"`

	ProtocolMaximum uint32 `yaml:"ProtocolMaximum"`
	ProtocolMinimum uint32 `yaml:"ProtocolMinimum"`
	Magic           uint32 `yaml:"Magic"`

	Services        uint64 `yaml:"Services"`
	InvalidServices uint64 `yaml:"InvalidServices"`

	RelayTransactions bool `yaml:"RelayTransactions"`
	ValidateChecksum  bool `yaml:"ValidateChecksum"`

	InboundPort        uint16 `yaml:"InboundPort"`
	InboundConnections int    `yaml:"InboundConnections"`
	UseIPv6            bool   `yaml:"UseIPv6"`

	OutboundConnections int `yaml:"OutboundConnections"`
	ConnectBatchSize    int `yaml:"ConnectBatchSize"`
	ManualAttemptLimit  int `yaml:"ManualAttemptLimit"`

	ConnectTimeout     time.Duration `yaml:"ConnectTimeout"`
	HandshakeTimeout   time.Duration `yaml:"HandshakeTimeout"`
	HeartbeatInterval  time.Duration `yaml:"HeartbeatInterval"`
	InactivityTimeout  time.Duration `yaml:"InactivityTimeout"`
	ExpirationTimeout  time.Duration `yaml:"ExpirationTimeout"`
	GerminationTimeout time.Duration `yaml:"GerminationTimeout"`

	HostPoolCapacity int    `yaml:"HostPoolCapacity"`
	HostsFile        string `yaml:"HostsFile"`

	Self string `yaml:"Self"` // "host:port", Port 0 suppresses advertisement

	Blacklist []string `yaml:"Blacklist"`
	Peers     []string `yaml:"Peers"`
	Seeds     []string `yaml:"Seeds"`

	UserAgent          string   `yaml:"UserAgent"`
	UserAgentBlacklist []string `yaml:"UserAgentBlacklist"`

	MetricsAddress string `yaml:"MetricsAddress"`
}

// loadFile reads and parses a YAML settings file, following the
// teacher's pkg/config.LoadFile convention of os.ReadFile + yaml.Unmarshal
// with no implicit searching of well-known paths.
func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("p2pnode: read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("p2pnode: parse config %q: %w", path, err)
	}
	return fc, nil
}

func parseEndpoints(items []string) ([]authority.Endpoint, error) {
	out := make([]authority.Endpoint, 0, len(items))
	for _, s := range items {
		e, err := authority.ParseEndpoint(s)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func parseAuthorities(items []string) ([]authority.Authority, error) {
	out := make([]authority.Authority, 0, len(items))
	for _, s := range items {
		a, err := authority.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// toControllerConfig resolves every hostname/authority string field and
// assembles the network.Config the controller actually takes.
func (fc fileConfig) toControllerConfig() (network.Config, error) {
	peers, err := parseEndpoints(fc.Peers)
	if err != nil {
		return network.Config{}, err
	}
	seeds, err := parseEndpoints(fc.Seeds)
	if err != nil {
		return network.Config{}, err
	}
	blacklist, err := parseAuthorities(fc.Blacklist)
	if err != nil {
		return network.Config{}, err
	}

	var self authority.NetworkAddress
	if fc.Self != "" {
		a, err := authority.Parse(fc.Self)
		if err != nil {
			return network.Config{}, err
		}
		self = authority.NetworkAddress{IP: a.IP, Port: a.Port, Services: fc.Services}
	}

	return network.Config{
		Threads:             fc.Threads,
		ProtocolMaximum:     fc.ProtocolMaximum,
		ProtocolMinimum:     fc.ProtocolMinimum,
		Services:            fc.Services,
		InvalidServices:     fc.InvalidServices,
		RelayTransactions:   fc.RelayTransactions,
		ValidateChecksum:    fc.ValidateChecksum,
		Identifier:          fc.Magic,
		InboundPort:         fc.InboundPort,
		InboundConnections:  fc.InboundConnections,
		UseIPv6:             fc.UseIPv6,
		OutboundConnections: fc.OutboundConnections,
		ConnectBatchSize:    fc.ConnectBatchSize,
		ManualAttemptLimit:  fc.ManualAttemptLimit,
		ConnectTimeout:      fc.ConnectTimeout,
		HandshakeTimeout:    fc.HandshakeTimeout,
		HeartbeatInterval:   fc.HeartbeatInterval,
		InactivityTimeout:   fc.InactivityTimeout,
		ExpirationTimeout:   fc.ExpirationTimeout,
		GerminationTimeout:  fc.GerminationTimeout,
		HostPoolCapacity:    fc.HostPoolCapacity,
		HostsFile:           fc.HostsFile,
		Self:                self,
		Blacklist:           blacklist,
		Peers:               peers,
		Seeds:               seeds,
		UserAgent:           fc.UserAgent,
		UserAgentBlacklist:  fc.UserAgentBlacklist,
	}, nil
}
