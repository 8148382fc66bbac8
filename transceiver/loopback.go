package transceiver

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/qkd/basis"
)

// loopChannel is the shared in-memory medium of a loopback pair. The writer
// appends encoded symbols and marks the transmission finished; readers block
// until that happens.
type loopChannel struct {
	mu      sync.Mutex
	cond    *sync.Cond
	symbols []basis.Symbol
	done    bool
}

// Loopback is an in-memory transceiver end. Two ends created together by
// NewLoopbackPair share one channel: symbols written on either end are read
// on the other in order, with no transmission loss unless configured.
//
// It is used as the simulated quantum channel in process-local deployments
// and as the test double everywhere else. The zero knobs give a perfect
// channel; BasisSource pins the writer's basis choices for deterministic
// runs, Corrupt mutates symbols in flight, and ShortRead makes the reader
// return that many fewer symbols than available.
type Loopback struct {
	ch *loopChannel

	// BasisSource supplies the basis for the i-th transmitted bit.
	// Nil means a fresh uniform random choice per bit.
	BasisSource func(i int) basis.Basis

	// Corrupt, when non-nil, replaces the i-th transmitted symbol.
	Corrupt func(i int, s basis.Symbol) basis.Symbol

	// ShortRead reduces every Read result by this many symbols.
	ShortRead int

	// ReadTimeout bounds how long Read waits for the writer to finish.
	ReadTimeout time.Duration
}

// NewLoopbackPair creates two transceiver ends joined by an in-memory
// channel, writer side first.
func NewLoopbackPair() (*Loopback, *Loopback) {
	ch := &loopChannel{}
	ch.cond = sync.NewCond(&ch.mu)
	a := &Loopback{ch: ch, ReadTimeout: 5 * time.Second}
	b := &Loopback{ch: ch, ReadTimeout: 5 * time.Second}
	return a, b
}

// Calibrate is a no-op on the loopback channel.
func (l *Loopback) Calibrate(cycles int) error { return nil }

// Write encodes each bit under a chosen basis and places the symbols on the
// shared channel, returning the bases used.
func (l *Loopback) Write(bits []byte) ([]basis.Basis, error) {
	bases := make([]basis.Basis, len(bits))
	symbols := make([]basis.Symbol, len(bits))
	for i, bit := range bits {
		var b basis.Basis
		if l.BasisSource != nil {
			b = l.BasisSource(i)
		} else {
			rb, err := basis.RandomBasis()
			if err != nil {
				return nil, err
			}
			b = rb
		}
		bases[i] = b
		s := basis.Encode(b, bit)
		if l.Corrupt != nil {
			s = l.Corrupt(i, s)
		}
		symbols[i] = s
	}

	l.ch.mu.Lock()
	l.ch.symbols = append(l.ch.symbols, symbols...)
	l.ch.done = true
	l.ch.cond.Broadcast()
	l.ch.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Write",
		"symbols":  len(symbols),
	}).Debug("Loopback transmission complete")
	return bases, nil
}

// Read returns up to count symbols from the channel, waiting for the writer
// to finish its transmission first. The result shrinks by ShortRead symbols
// when a short read is being simulated. A successful read consumes the whole
// transmission and rearms the channel, so a reconnect over the same pair
// sees fresh symbols instead of a replay.
func (l *Loopback) Read(count int) ([]basis.Symbol, error) {
	deadline := time.Now().Add(l.ReadTimeout)
	timer := time.AfterFunc(l.ReadTimeout, func() {
		l.ch.mu.Lock()
		l.ch.cond.Broadcast()
		l.ch.mu.Unlock()
	})
	defer timer.Stop()

	l.ch.mu.Lock()
	defer l.ch.mu.Unlock()
	for !l.ch.done {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: no transmission within %v", ErrReadFailed, l.ReadTimeout)
		}
		l.ch.cond.Wait()
	}

	n := len(l.ch.symbols)
	if n > count {
		n = count
	}
	n -= l.ShortRead
	if n < 0 {
		n = 0
	}
	out := append([]basis.Symbol(nil), l.ch.symbols[:n]...)
	l.ch.symbols = nil
	l.ch.done = false
	return out, nil
}
