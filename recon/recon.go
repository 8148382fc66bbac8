// Package recon holds block-parity scaffolding for key reconciliation.
//
// Real error correction (and privacy amplification after it) is future
// work; the core protocol never calls into this package. What is here is
// the parity arithmetic an interactive reconciliation pass would start
// from: block parities of a sifted key and the localization of blocks
// where two keys disagree.
package recon

import "errors"

// ErrBlockSize is returned for non-positive block sizes.
var ErrBlockSize = errors.New("block size must be positive")

// Parity returns the parity of a bit sequence: 1 for an odd number of set
// bits, 0 for even.
func Parity(bits []byte) byte {
	var p byte
	for _, b := range bits {
		p ^= b & 1
	}
	return p
}

// BlockParities splits bits into consecutive blocks of blockSize and
// returns the parity of each. A trailing partial block is skipped; callers
// compare only ranges both sides hold in full.
func BlockParities(bits []byte, blockSize int) ([]byte, error) {
	if blockSize <= 0 {
		return nil, ErrBlockSize
	}
	parities := make([]byte, 0, len(bits)/blockSize)
	for i := 0; i+blockSize <= len(bits); i += blockSize {
		parities = append(parities, Parity(bits[i:i+blockSize]))
	}
	return parities, nil
}

// CompareBlockParities returns the indices of blocks whose parities differ
// between the two sides, up to the shorter parity list. Each mismatched
// block is known to hold an odd number of bit errors; locating them is the
// entry point of an interactive reconciliation exchange.
func CompareBlockParities(local, peer []byte) []int {
	n := len(local)
	if len(peer) < n {
		n = len(peer)
	}
	var mismatched []int
	for i := 0; i < n; i++ {
		if local[i] != peer[i] {
			mismatched = append(mismatched, i)
		}
	}
	return mismatched
}
