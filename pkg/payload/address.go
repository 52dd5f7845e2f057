package payload

import (
	"io"

	"github.com/k-nuth/network/pkg/authority"
)

const maxAddressesPerMessage = 1000

// Address is a gossiped list of known peer addresses.
type Address struct {
	Addresses []authority.NetworkAddress
}

func (*Address) Kind() Kind { return KindAddress }

func (a *Address) Encode(version uint32, w io.Writer) error {
	if err := writeVarInt(w, uint64(len(a.Addresses))); err != nil {
		return err
	}
	for _, addr := range a.Addresses {
		if err := writeNetAddrTimestamped(w, addr); err != nil {
			return err
		}
	}
	return nil
}

func (a *Address) Decode(version uint32, r io.Reader) error {
	n, err := readVarInt(r)
	if err != nil {
		return err
	}
	if n > maxAddressesPerMessage {
		return ErrTrailingBytes
	}
	a.Addresses = make([]authority.NetworkAddress, 0, n)
	for i := uint64(0); i < n; i++ {
		addr, err := readNetAddrTimestamped(r)
		if err != nil {
			return err
		}
		a.Addresses = append(a.Addresses, addr)
	}
	return nil
}

// GetAddress requests the peer's known address list. It carries no payload.
type GetAddress struct{}

func (*GetAddress) Kind() Kind                     { return KindGetAddress }
func (*GetAddress) Encode(uint32, io.Writer) error { return nil }
func (*GetAddress) Decode(uint32, io.Reader) error { return nil }
