package payload

import "time"

// PeerVersion is the immutable record of a peer's advertised protocol
// version, captured once per channel on receipt of its first Version
// message.
type PeerVersion struct {
	Version     uint32
	Services    uint64
	UserAgent   string
	Timestamp   time.Time
	StartHeight uint32
	Relay       bool
	Nonce       uint64
}

// PeerVersionFrom derives a PeerVersion snapshot from a decoded Version message.
func PeerVersionFrom(v *Version) *PeerVersion {
	return &PeerVersion{
		Version:     v.Value,
		Services:    v.Services,
		UserAgent:   v.UserAgent,
		Timestamp:   v.Timestamp,
		StartHeight: v.StartHeight,
		Relay:       v.Relay,
		Nonce:       v.Nonce,
	}
}
