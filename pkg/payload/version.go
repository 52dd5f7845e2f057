package payload

import (
	"io"
	"time"

	"github.com/k-nuth/network/pkg/authority"
)

const maxUserAgentLength = 256

// Version is the handshake-opening message. ReceiverAddress/SenderAddress
// carry no timestamp on the wire (the original protocol's quirk, preserved
// here since peers expect it).
type Version struct {
	Value           uint32
	Services        uint64
	Timestamp       time.Time
	ReceiverAddress authority.NetworkAddress
	SenderAddress   authority.NetworkAddress
	Nonce           uint64
	UserAgent       string
	StartHeight     uint32
	Relay           bool // only meaningful at version >= 70001
}

func (v *Version) Kind() Kind { return KindVersion }

func (v *Version) Encode(version uint32, w io.Writer) error {
	if err := writeUint32(w, v.Value); err != nil {
		return err
	}
	if err := writeUint64(w, v.Services); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(v.Timestamp.Unix())); err != nil {
		return err
	}
	if err := writeNetAddr(w, v.ReceiverAddress); err != nil {
		return err
	}
	if version >= 106 {
		if err := writeNetAddr(w, v.SenderAddress); err != nil {
			return err
		}
		if err := writeUint64(w, v.Nonce); err != nil {
			return err
		}
		if err := writeVarString(w, v.UserAgent); err != nil {
			return err
		}
		if err := writeUint32(w, v.StartHeight); err != nil {
			return err
		}
		if version >= 70001 {
			relay := byte(0)
			if v.Relay {
				relay = 1
			}
			if _, err := w.Write([]byte{relay}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Version) Decode(version uint32, r io.Reader) error {
	var err error
	if v.Value, err = readUint32(r); err != nil {
		return err
	}
	if v.Services, err = readUint64(r); err != nil {
		return err
	}
	ts, err := readUint64(r)
	if err != nil {
		return err
	}
	v.Timestamp = time.Unix(int64(ts), 0)
	if v.ReceiverAddress, err = readNetAddr(r); err != nil {
		return err
	}
	if version < 106 {
		return nil
	}
	if v.SenderAddress, err = readNetAddr(r); err != nil {
		return err
	}
	if v.Nonce, err = readUint64(r); err != nil {
		return err
	}
	if v.UserAgent, err = readVarString(r, maxUserAgentLength); err != nil {
		return err
	}
	if v.StartHeight, err = readUint32(r); err != nil {
		return err
	}
	if version < 70001 {
		return nil
	}
	var relay [1]byte
	if _, err := io.ReadFull(r, relay[:]); err != nil {
		// relay byte is optional in practice; absence is not an error.
		return nil
	}
	v.Relay = relay[0] != 0
	return nil
}

// Verack carries no payload.
type Verack struct{}

func (*Verack) Kind() Kind                     { return KindVerack }
func (*Verack) Encode(uint32, io.Writer) error { return nil }
func (*Verack) Decode(uint32, io.Reader) error { return nil }
