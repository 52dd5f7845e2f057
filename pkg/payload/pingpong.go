package payload

import "io"

// Ping carries an optional nonce; protocol-version 31402 peers send no
// nonce at all (the field is absent on the wire), 60001+ peers always do.
type Ping struct {
	Nonce    uint64
	HasNonce bool
}

func (*Ping) Kind() Kind { return KindPing }

func (p *Ping) Encode(version uint32, w io.Writer) error {
	if !p.HasNonce {
		return nil
	}
	return writeUint64(w, p.Nonce)
}

func (p *Ping) Decode(version uint32, r io.Reader) error {
	n, err := readUint64(r)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		p.HasNonce = false
		return nil
	}
	if err != nil {
		return err
	}
	p.Nonce = n
	p.HasNonce = true
	return nil
}

// Pong always carries a nonce echoing the ping that triggered it.
type Pong struct {
	Nonce uint64
}

func (*Pong) Kind() Kind                           { return KindPong }
func (p *Pong) Encode(version uint32, w io.Writer) error { return writeUint64(w, p.Nonce) }
func (p *Pong) Decode(version uint32, r io.Reader) error {
	n, err := readUint64(r)
	if err != nil {
		return err
	}
	p.Nonce = n
	return nil
}
