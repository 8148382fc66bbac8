// Package transceiver abstracts the physical (or simulated) quantum channel.
//
// A Transceiver encodes raw bits into basis-dependent symbols on the way
// out and detects symbols on the way in. The protocol engine only depends
// on the three-method interface; the concrete implementations are a
// simulated display emitter, a hardware LED/color-sensor pair, and an
// in-memory loopback used as the test channel.
package transceiver

import (
	"errors"
	"fmt"

	"github.com/opd-ai/qkd/basis"
)

// Transceiver is the capability surface the protocol engine consumes.
//
// Write transmits the given bits (values 0 or 1) and returns the basis the
// channel actually used for each bit, in order; the returned slice length
// must equal len(bits). Read detects up to count symbols; returning fewer
// is a short read the caller must tolerate. Both calls block for the whole
// transmission and must run off any latency-sensitive goroutine.
type Transceiver interface {
	Calibrate(cycles int) error
	Write(bits []byte) ([]basis.Basis, error)
	Read(count int) ([]basis.Symbol, error)
}

// Transceiver errors.
var (
	// ErrReadUnsupported is returned by transceivers without a capture
	// device.
	ErrReadUnsupported = errors.New("transceiver does not support read")

	// ErrReadFailed is returned when a read times out or the device
	// fails mid-reception.
	ErrReadFailed = errors.New("transceiver read failed")

	// ErrWriteFailed is returned when the emitter fails mid-transmission.
	ErrWriteFailed = errors.New("transceiver write failed")
)

// Kind selects a transceiver implementation at startup.
type Kind string

const (
	KindDisplay  Kind = "display"
	KindHardware Kind = "hardware"
	KindLoopback Kind = "loopback"
)

// ParseKind validates a configuration string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDisplay, KindHardware, KindLoopback:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown transceiver kind %q", s)
}
