// Package authority implements the network core's peer-endpoint value
// types: Authority (resolved IP+port), Endpoint (unresolved host+port)
// and NetworkAddress (a gossiped, timestamped, service-tagged address).
package authority

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Authority identifies a peer endpoint by resolved IP and port. It is
// used for logging, blacklist checks, and duplicate detection in the
// channel registries.
type Authority struct {
	IP   net.IP
	Port uint16
}

// New builds an Authority from an IP and port.
func New(ip net.IP, port uint16) Authority {
	return Authority{IP: ip, Port: port}
}

// Parse accepts "ipv4:port" or "[ipv6]:port" and returns the Authority.
func Parse(s string) (Authority, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Authority{}, fmt.Errorf("authority: parse %q: %w", s, err)
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return Authority{}, fmt.Errorf("authority: invalid ip %q", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Authority{}, fmt.Errorf("authority: invalid port %q: %w", portStr, err)
	}
	return Authority{IP: ip, Port: uint16(port)}, nil
}

// FromNetworkAddress derives an Authority from a gossiped NetworkAddress.
func FromNetworkAddress(a NetworkAddress) Authority {
	return Authority{IP: a.IP, Port: a.Port}
}

// Valid reports whether the authority has a nonzero port and a non-nil,
// specified (not 0.0.0.0 or ::) IP.
func (a Authority) Valid() bool {
	return a.Port != 0 && a.IP != nil && !a.IP.IsUnspecified()
}

// Key returns a value usable as a map key for set membership (net.IP is
// a slice and not directly comparable).
func (a Authority) Key() string {
	return a.String()
}

func (a Authority) String() string {
	if a.IP == nil {
		return fmt.Sprintf(":%d", a.Port)
	}
	if ip4 := a.IP.To4(); ip4 != nil {
		return fmt.Sprintf("%s:%d", ip4, a.Port)
	}
	return fmt.Sprintf("[%s]:%d", a.IP, a.Port)
}

// Endpoint is an unresolved hostname and port, the input form used by
// configuration for peers and seeds.
type Endpoint struct {
	Host string
	Port uint16
}

func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: parse %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: invalid port %q: %w", portStr, err)
	}
	return Endpoint{Host: host, Port: uint16(port)}, nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// NetworkAddress is a gossiped, timestamped peer address with its
// advertised services bitfield.
type NetworkAddress struct {
	IP        net.IP
	Port      uint16
	Services  uint64
	Timestamp time.Time
}

// Valid iff port is nonzero and the IP is not the unspecified address.
func (a NetworkAddress) Valid() bool {
	return a.Port != 0 && a.IP != nil && !a.IP.IsUnspecified()
}

func (a NetworkAddress) Authority() Authority {
	return Authority{IP: a.IP, Port: a.Port}
}

func (a NetworkAddress) String() string {
	return Authority{IP: a.IP, Port: a.Port}.String()
}
