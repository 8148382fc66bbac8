package basis

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
)

// HexToBits expands a hex string into individual bit values (one byte per
// bit, each 0 or 1), most significant bit first. The result always has
// exactly four bits per hex digit.
func HexToBits(s string) ([]byte, error) {
	bits := make([]byte, 0, len(s)*4)
	for i := 0; i < len(s); i++ {
		nibble, err := strconv.ParseUint(string(s[i]), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex digit %q at index %d", s[i], i)
		}
		for shift := 3; shift >= 0; shift-- {
			bits = append(bits, byte(nibble>>uint(shift))&1)
		}
	}
	return bits, nil
}

// BitsToHex packs a bit sequence into a hex string. The sequence is
// left-padded with zero bits to a whole number of nibbles, so the hex length
// is always ceil(len(bits)/4) digits and round-tripping through HexToBits
// preserves the trailing bits exactly.
func BitsToHex(bits []byte) string {
	if len(bits) == 0 {
		return ""
	}
	pad := (4 - len(bits)%4) % 4
	var sb strings.Builder
	var nibble byte
	for i := 0; i < pad+len(bits); i++ {
		nibble <<= 1
		if i >= pad && bits[i-pad] != 0 {
			nibble |= 1
		}
		if i%4 == 3 {
			sb.WriteByte("0123456789abcdef"[nibble])
			nibble = 0
		}
	}
	return sb.String()
}

// RandomBits produces n uniformly random bit values from crypto/rand.
func RandomBits(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	raw := make([]byte, (n+7)/8)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate random bits: %w", err)
	}
	bits := make([]byte, n)
	for i := range bits {
		bits[i] = (raw[i/8] >> uint(7-i%8)) & 1
	}
	return bits, nil
}

// RandomBasis picks one of the two bases uniformly at random.
func RandomBasis() (Basis, error) {
	var buf [1]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to generate random basis: %w", err)
	}
	if buf[0]&1 == 0 {
		return Rectilinear, nil
	}
	return Diagonal, nil
}

// RandomBases picks n independent uniformly random bases. The choice is
// never derived from any peer state; that independence is what BB84's
// security argument rests on.
func RandomBases(n int) ([]Basis, error) {
	bits, err := RandomBits(n)
	if err != nil {
		return nil, err
	}
	bases := make([]Basis, n)
	for i, bit := range bits {
		if bit == 0 {
			bases[i] = Rectilinear
		} else {
			bases[i] = Diagonal
		}
	}
	return bases, nil
}
