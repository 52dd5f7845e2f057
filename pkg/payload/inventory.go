package payload

import "io"

// InventoryType tags a single inventory vector.
type InventoryType uint32

const (
	InventoryError         InventoryType = 0
	InventoryTransaction   InventoryType = 1
	InventoryBlock         InventoryType = 2
	InventoryFilteredBlock InventoryType = 3
	InventoryCompactBlock  InventoryType = 4
)

// InventoryVector is one (type, hash) pair in an inv/getdata/notfound list.
type InventoryVector struct {
	Type InventoryType
	Hash [32]byte
}

const maxInventoryPerMessage = 50000

// Inventory backs inv, getdata and notfound, which share wire layout:
// a varint count followed by that many 36-byte vectors.
type Inventory struct {
	kind      Kind
	Inventory []InventoryVector
}

func NewInv() *Inventory      { return &Inventory{kind: KindInv} }
func NewGetData() *Inventory  { return &Inventory{kind: KindGetData} }
func NewNotFound() *Inventory { return &Inventory{kind: KindNotFound} }

func (i *Inventory) Kind() Kind { return i.kind }

func (i *Inventory) Encode(version uint32, w io.Writer) error {
	if err := writeVarInt(w, uint64(len(i.Inventory))); err != nil {
		return err
	}
	for _, v := range i.Inventory {
		if err := writeUint32(w, uint32(v.Type)); err != nil {
			return err
		}
		if _, err := w.Write(v.Hash[:]); err != nil {
			return err
		}
	}
	return nil
}

func (i *Inventory) Decode(version uint32, r io.Reader) error {
	n, err := readVarInt(r)
	if err != nil {
		return err
	}
	if n > maxInventoryPerMessage {
		return ErrTrailingBytes
	}
	i.Inventory = make([]InventoryVector, 0, n)
	for idx := uint64(0); idx < n; idx++ {
		t, err := readUint32(r)
		if err != nil {
			return err
		}
		var hash [32]byte
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return err
		}
		i.Inventory = append(i.Inventory, InventoryVector{Type: InventoryType(t), Hash: hash})
	}
	return nil
}
