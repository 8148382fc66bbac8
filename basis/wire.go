package basis

import (
	"errors"
	"fmt"
)

// ErrInvalidBasis is returned when a wire payload contains a character that
// is not one of the two basis symbols.
var ErrInvalidBasis = errors.New("invalid basis character")

// Format renders a basis sequence in its wire form, one character per
// basis, e.g. "+X+X".
func Format(bases []Basis) string {
	buf := make([]byte, len(bases))
	for i, b := range bases {
		buf[i] = byte(b)
	}
	return string(buf)
}

// Parse converts a wire-form basis string back into a sequence. It rejects
// the whole payload on the first character outside the basis alphabet.
func Parse(s string) ([]Basis, error) {
	bases := make([]Basis, len(s))
	for i := 0; i < len(s); i++ {
		b := Basis(s[i])
		if !b.Valid() {
			return nil, fmt.Errorf("%w: %q at index %d", ErrInvalidBasis, s[i], i)
		}
		bases[i] = b
	}
	return bases, nil
}
