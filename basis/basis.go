// Package basis defines the BB84 encoding alphabet: the two measurement
// bases, the physical symbols a transceiver can emit or detect, and the
// mapping between (basis, bit) pairs and symbols.
//
// The encode table is fixed by the transmission scheme:
//
//	Rectilinear (+): bit 0 -> Blue, bit 1 -> Green
//	Diagonal    (X): bit 0 -> Blue, bit 1 -> Red
//
// Decode is the exact inverse of Encode under the same basis. A symbol that
// does not appear in the matched basis's row (for example Red under
// Rectilinear) decodes to nothing; the sifting engine treats that as a
// detection anomaly.
package basis

// Basis is one of the two BB84 measurement/encoding schemes. The underlying
// byte values are the wire characters used during basis exchange.
type Basis byte

const (
	// Rectilinear is the '+' basis.
	Rectilinear Basis = '+'
	// Diagonal is the 'X' basis.
	Diagonal Basis = 'X'
)

// Valid reports whether b is one of the two defined bases.
func (b Basis) Valid() bool {
	return b == Rectilinear || b == Diagonal
}

// String returns the single-character wire form of the basis.
func (b Basis) String() string {
	return string(rune(b))
}

// Symbol is a physical channel symbol: one of the three data colors, the
// white framing marker, or None when nothing was detected.
type Symbol uint8

const (
	None Symbol = iota
	Blue
	Green
	Red
	// White delimits a transmission on the physical channel. It never
	// encodes a data bit.
	White
)

var symbolNames = map[Symbol]string{
	None:  "Off",
	Blue:  "Blue",
	Green: "Green",
	Red:   "Red",
	White: "White",
}

// String returns the symbol's color name.
func (s Symbol) String() string {
	if name, ok := symbolNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Encode maps a bit to the symbol transmitted under the given basis. The
// bit must be 0 or 1 and the basis must be valid; anything else yields None.
func Encode(b Basis, bit byte) Symbol {
	switch b {
	case Rectilinear:
		if bit == 0 {
			return Blue
		}
		if bit == 1 {
			return Green
		}
	case Diagonal:
		if bit == 0 {
			return Blue
		}
		if bit == 1 {
			return Red
		}
	}
	return None
}

// Decode maps a detected symbol back to a bit under the given measurement
// basis. ok is false when the symbol is not part of that basis's alphabet,
// which the caller must treat as a detection error rather than a bit value.
func Decode(b Basis, s Symbol) (bit byte, ok bool) {
	switch b {
	case Rectilinear:
		switch s {
		case Blue:
			return 0, true
		case Green:
			return 1, true
		}
	case Diagonal:
		switch s {
		case Blue:
			return 0, true
		case Red:
			return 1, true
		}
	}
	return 0, false
}
