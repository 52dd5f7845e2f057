package payload

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/k-nuth/network/pkg/authority"
)

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// writeVarInt encodes the Bitcoin CompactSize integer format.
func writeVarInt(w io.Writer, v uint64) error {
	switch {
	case v < 0xfd:
		_, err := w.Write([]byte{byte(v)})
		return err
	case v <= 0xffff:
		if _, err := w.Write([]byte{0xfd}); err != nil {
			return err
		}
		return writeUint16(w, uint16(v))
	case v <= 0xffffffff:
		if _, err := w.Write([]byte{0xfe}); err != nil {
			return err
		}
		return writeUint32(w, uint32(v))
	default:
		if _, err := w.Write([]byte{0xff}); err != nil {
			return err
		}
		return writeUint64(w, v)
	}
}

func readVarInt(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}
	switch prefix[0] {
	case 0xfd:
		v, err := readUint16(r)
		return uint64(v), err
	case 0xfe:
		v, err := readUint32(r)
		return uint64(v), err
	case 0xff:
		return readUint64(r)
	default:
		return uint64(prefix[0]), nil
	}
}

func writeVarString(w io.Writer, s string) error {
	if err := writeVarInt(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readVarString(r io.Reader, maxLen uint64) (string, error) {
	n, err := readVarInt(r)
	if err != nil {
		return "", err
	}
	if n > maxLen {
		return "", fmt.Errorf("payload: string length %d exceeds max %d", n, maxLen)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// writeNetAddrTimestamped writes a (services, ip, port) address with the
// timestamp prefix required in addr-list contexts. The version message's
// addresses carry no timestamp, so Version calls writeNetAddr directly.
func writeNetAddrTimestamped(w io.Writer, a authority.NetworkAddress) error {
	if err := writeUint32(w, uint32(a.Timestamp.Unix())); err != nil {
		return err
	}
	return writeNetAddr(w, a)
}

func writeNetAddr(w io.Writer, a authority.NetworkAddress) error {
	if err := writeUint64(w, a.Services); err != nil {
		return err
	}
	ip16 := to16(a.IP)
	if _, err := w.Write(ip16); err != nil {
		return err
	}
	return writeUint16BigEndian(w, a.Port)
}

func readNetAddrTimestamped(r io.Reader) (authority.NetworkAddress, error) {
	ts, err := readUint32(r)
	if err != nil {
		return authority.NetworkAddress{}, err
	}
	a, err := readNetAddr(r)
	if err != nil {
		return authority.NetworkAddress{}, err
	}
	a.Timestamp = time.Unix(int64(ts), 0)
	return a, nil
}

func readNetAddr(r io.Reader) (authority.NetworkAddress, error) {
	services, err := readUint64(r)
	if err != nil {
		return authority.NetworkAddress{}, err
	}
	ip16 := make([]byte, 16)
	if _, err := io.ReadFull(r, ip16); err != nil {
		return authority.NetworkAddress{}, err
	}
	port, err := readUint16BigEndian(r)
	if err != nil {
		return authority.NetworkAddress{}, err
	}
	return authority.NetworkAddress{
		IP:       net.IP(ip16),
		Port:     port,
		Services: services,
	}, nil
}

func to16(ip net.IP) []byte {
	if ip == nil {
		return make([]byte, 16)
	}
	if v4 := ip.To4(); v4 != nil {
		out := make([]byte, 16)
		copy(out[12:], v4)
		out[10] = 0xff
		out[11] = 0xff
		return out
	}
	out := make([]byte, 16)
	copy(out, ip.To16())
	return out
}

func writeUint16BigEndian(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint16BigEndian(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
