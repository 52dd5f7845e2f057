package payload

import "io"

// RejectReason enumerates the reason codes a reject message may carry.
// The core sends only Obsolete (from the 70002 version protocol, for an
// insufficient peer); received rejects of every reason code are only
// logged, by RejectProtocol, and never acted on.
type RejectReason byte

const (
	RejectMalformed       RejectReason = 0x01
	RejectInvalid         RejectReason = 0x10
	RejectObsolete        RejectReason = 0x11
	RejectDuplicate       RejectReason = 0x12
	RejectNonStandard     RejectReason = 0x40
	RejectDust            RejectReason = 0x41
	RejectInsufficientFee RejectReason = 0x42
	RejectCheckpoint      RejectReason = 0x43
)

// Reject reports why a peer refused a message we sent it.
type Reject struct {
	Message string
	Code    RejectReason
	Reason  string
	Data    []byte
}

func (*Reject) Kind() Kind { return KindReject }

func (r *Reject) Encode(version uint32, w io.Writer) error {
	if err := writeVarString(w, r.Message); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(r.Code)}); err != nil {
		return err
	}
	if err := writeVarString(w, r.Reason); err != nil {
		return err
	}
	_, err := w.Write(r.Data)
	return err
}

func (r *Reject) Decode(version uint32, rd io.Reader) error {
	var err error
	if r.Message, err = readVarString(rd, maxUserAgentLength); err != nil {
		return err
	}
	var code [1]byte
	if _, err := io.ReadFull(rd, code[:]); err != nil {
		return err
	}
	r.Code = RejectReason(code[0])
	if r.Reason, err = readVarString(rd, 256); err != nil {
		return err
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return err
	}
	r.Data = data
	return nil
}
