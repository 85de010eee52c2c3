package spizero

// Segment is one leg of a transaction.
//
// A write leg sets only Tx, a read leg sets only Rx, a full-duplex leg sets
// both with equal lengths.
type Segment struct {
	Tx []byte
	Rx []byte

	// SpeedHz overrides the device clock for this leg. 0 keeps the default.
	SpeedHz uint32

	// DelayUsecs is waited after this leg before the next one starts.
	DelayUsecs uint16

	// BitsPerWord overrides the word width for this leg. 0 keeps the default.
	BitsPerWord uint8

	// KeepCS keeps the peripheral selected until the next leg starts.
	KeepCS bool
}

// Len returns the number of bytes clocked during the leg.
func (s Segment) Len() int {
	if len(s.Tx) > len(s.Rx) {
		return len(s.Tx)
	}
	return len(s.Rx)
}

// Transaction is an ordered list of segments executed as one bus operation.
type Transaction []Segment

// NewTransaction returns a validated transaction made of segs.
func NewTransaction(segs ...Segment) (Transaction, error) {
	t := Transaction(segs)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate reports caller errors: no segments at all or a full-duplex
// segment with unequal buffers.
func (t Transaction) Validate() error {
	if len(t) == 0 {
		return ErrNoSegments
	}

	for i, s := range t {
		if s.Tx != nil && s.Rx != nil && len(s.Tx) != len(s.Rx) {
			return &LengthMismatchError{Segment: i, TxLen: len(s.Tx), RxLen: len(s.Rx)}
		}
	}

	return nil
}

// Len returns the total number of bytes clocked by the transaction.
func (t Transaction) Len() int {
	n := 0
	for _, s := range t {
		n += s.Len()
	}
	return n
}

// WriteTransaction returns a single write leg.
func WriteTransaction(p []byte) Transaction {
	return Transaction{{Tx: p}}
}

// ReadTransaction returns a single read leg filling rx.
func ReadTransaction(rx []byte) Transaction {
	return Transaction{{Rx: rx}}
}

// DuplexTransaction returns a single full-duplex leg.
func DuplexTransaction(tx, rx []byte) Transaction {
	return Transaction{{Tx: tx, Rx: rx}}
}

// WriteThenReadTransaction returns the command/response pattern: a write leg
// holding chip select followed by a read leg filling r.
func WriteThenReadTransaction(w, r []byte) Transaction {
	return Transaction{
		{Tx: w, KeepCS: true},
		{Rx: r},
	}
}

// AddressPrefix returns addr as a big-endian register address of width bytes.
func AddressPrefix(addr uint32, width int) ([]byte, error) {
	switch width {
	case 1:
		return []byte{byte(addr)}, nil
	case 2:
		return []byte{byte(addr >> 8), byte(addr)}, nil
	}
	return nil, &AddrWidthError{Width: width}
}
