package payload

import "io"

// Opaque is the passthrough representation for message kinds the core
// frames and dispatches but does not interpret: get_blocks, get_headers,
// block, transaction, headers, merkle_block, filter_load/add/clear, fee_filter,
// send_headers, send_compact, compact_block, block_transactions,
// get_block_transactions, memory_pool, alert, double_spend_proof and
// xversion. The application layer (out of scope per spec §1) is
// expected to re-decode Bytes with its own codec.
type Opaque struct {
	kind  Kind
	Bytes []byte
}

func NewOpaque(kind Kind) *Opaque {
	return &Opaque{kind: kind}
}

func (o *Opaque) Kind() Kind { return o.kind }

func (o *Opaque) Encode(version uint32, w io.Writer) error {
	_, err := w.Write(o.Bytes)
	return err
}

func (o *Opaque) Decode(version uint32, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	o.Bytes = b
	return nil
}
