// Package payload implements the Bitcoin-family wire messages the
// network core frames, dispatches and constructs: the fixed heading,
// version/verack, ping/pong, address/get_address, reject, and the
// remaining application-layer kinds the core passes through untyped.
package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// CommandSize is the fixed width of the null-padded ASCII command
	// name in a heading.
	CommandSize = 12
	// HeadingSize is the total byte size of a frame heading.
	HeadingSize = 4 + CommandSize + 4 + 4
)

// Kind enumerates the closed set of message kinds the core recognizes
// by command string. Kinds not in this table are still framed; loading
// one reports not-found, and the core never stops a channel merely for
// an unrecognized command.
type Kind string

const (
	KindVersion                = Kind("version")
	KindVerack                 = Kind("verack")
	KindPing                   = Kind("ping")
	KindPong                   = Kind("pong")
	KindAddress                = Kind("addr")
	KindGetAddress             = Kind("getaddr")
	KindReject                 = Kind("reject")
	KindInv                    = Kind("inv")
	KindGetData                = Kind("getdata")
	KindGetBlocks              = Kind("getblocks")
	KindGetHeaders             = Kind("getheaders")
	KindHeaders                = Kind("headers")
	KindBlock                  = Kind("block")
	KindTransaction            = Kind("tx")
	KindMerkleBlock            = Kind("merkleblock")
	KindFilterLoad             = Kind("filterload")
	KindFilterAdd              = Kind("filteradd")
	KindFilterClear            = Kind("filterclear")
	KindFeeFilter              = Kind("feefilter")
	KindSendHeaders            = Kind("sendheaders")
	KindSendCompact            = Kind("sendcmpct")
	KindCompactBlock           = Kind("cmpctblock")
	KindBlockTransactions      = Kind("blocktxn")
	KindGetBlockTransactions   = Kind("getblocktxn")
	KindNotFound               = Kind("notfound")
	KindMemoryPool             = Kind("mempool")
	KindAlert                  = Kind("alert")
	KindDoubleSpendProof       = Kind("dsproof")
	KindXVersion               = Kind("xversion")
)

// Heading is the fixed-size frame prologue preceding every message
// payload on the wire.
type Heading struct {
	Magic    uint32
	Command  Kind
	Length   uint32
	Checksum [4]byte
}

// DecodeHeading parses exactly HeadingSize bytes into a Heading. It
// performs no validation against configuration; callers compare Magic
// and Length against their own limits.
func DecodeHeading(b []byte) (Heading, error) {
	if len(b) != HeadingSize {
		return Heading{}, fmt.Errorf("payload: heading must be %d bytes, got %d", HeadingSize, len(b))
	}
	var h Heading
	h.Magic = binary.LittleEndian.Uint32(b[0:4])
	cmd := bytes.TrimRight(b[4:4+CommandSize], "\x00")
	h.Command = Kind(cmd)
	h.Length = binary.LittleEndian.Uint32(b[16:20])
	copy(h.Checksum[:], b[20:24])
	return h, nil
}

// Encode writes the heading in wire form.
func (h Heading) Encode() []byte {
	out := make([]byte, HeadingSize)
	binary.LittleEndian.PutUint32(out[0:4], h.Magic)
	cmd := []byte(h.Command)
	if len(cmd) > CommandSize {
		cmd = cmd[:CommandSize]
	}
	copy(out[4:4+CommandSize], cmd)
	binary.LittleEndian.PutUint32(out[16:20], h.Length)
	copy(out[20:24], h.Checksum[:])
	return out
}

// Checksum4 computes the four-byte checksum (first four bytes of
// double-SHA256) used to validate frame payloads.
func Checksum4(payload []byte) [4]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}

// ErrTrailingBytes is returned by DecodeInto when the payload reader has
// unconsumed bytes after a structurally complete decode. Address and
// Inventory Decode also return it when a message's item count exceeds
// their per-message maximum.
var ErrTrailingBytes = errors.New("payload: trailing bytes after decode")

// Message is implemented by every typed payload. Encode/Decode operate
// at a given negotiated protocol version, since wire layout for some
// kinds (e.g. version) varies by version.
type Message interface {
	Kind() Kind
	Encode(version uint32, w io.Writer) error
	Decode(version uint32, r io.Reader) error
}

// Frame serializes msg's payload and wraps it in a heading using magic
// and the given negotiated version.
func Frame(magic uint32, version uint32, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := msg.Encode(version, &buf); err != nil {
		return nil, err
	}
	payloadBytes := buf.Bytes()
	h := Heading{
		Magic:    magic,
		Command:  msg.Kind(),
		Length:   uint32(len(payloadBytes)),
		Checksum: Checksum4(payloadBytes),
	}
	out := make([]byte, 0, HeadingSize+len(payloadBytes))
	out = append(out, h.Encode()...)
	out = append(out, payloadBytes...)
	return out, nil
}

// DecodeInto decodes payload bytes into msg at the given version,
// rejecting trailing bytes per the framing invariant.
func DecodeInto(msg Message, version uint32, payload []byte) error {
	r := bytes.NewReader(payload)
	if err := msg.Decode(version, r); err != nil {
		return err
	}
	if r.Len() != 0 {
		return ErrTrailingBytes
	}
	return nil
}
