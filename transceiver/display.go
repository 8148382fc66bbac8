package transceiver

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/qkd/basis"
)

// FrameSink renders one symbol frame on whatever surface the display node
// has: a window, a terminal, a log. Frames arrive one symbol period apart.
type FrameSink interface {
	ShowFrame(s basis.Symbol) error
}

// LogSink renders frames as log lines. It is the default sink for display
// nodes run without a real surface attached.
type LogSink struct{}

// ShowFrame implements FrameSink.
func (LogSink) ShowFrame(s basis.Symbol) error {
	logrus.WithFields(logrus.Fields{
		"function": "ShowFrame",
		"color":    s.String(),
	}).Debug("Displaying frame")
	return nil
}

// Display is the simulated desktop transceiver. It can transmit by
// rendering colored frames but has no capture device, so Read is
// unsupported: a display node can only take the initiator role.
type Display struct {
	sink   FrameSink
	period time.Duration
}

// NewDisplay creates a display transceiver emitting one frame per period.
// A nil sink falls back to LogSink.
func NewDisplay(sink FrameSink, period time.Duration) *Display {
	if sink == nil {
		sink = LogSink{}
	}
	return &Display{sink: sink, period: period}
}

// Calibrate cycles the Red/Green/Blue frames the given number of times so a
// camera on the far side can lock onto the display's color rendering.
func (d *Display) Calibrate(cycles int) error {
	logrus.WithFields(logrus.Fields{
		"function": "Calibrate",
		"cycles":   cycles,
	}).Info("Starting display calibration")

	for i := 0; i < cycles; i++ {
		for _, s := range []basis.Symbol{basis.Red, basis.Green, basis.Blue} {
			if err := d.sink.ShowFrame(s); err != nil {
				return fmt.Errorf("%w: calibration frame: %v", ErrWriteFailed, err)
			}
			time.Sleep(d.period)
		}
	}
	return nil
}

// Write transmits the bits as colored frames, one per symbol period, with a
// white frame before and after the data to delimit the transmission. The
// basis for each bit is chosen uniformly at random at emission time and the
// choices are returned to the caller.
func (d *Display) Write(bits []byte) ([]basis.Basis, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Write",
		"bits":     len(bits),
	}).Info("Starting display transmission")

	if err := d.showFrame(basis.White); err != nil {
		return nil, err
	}

	bases := make([]basis.Basis, len(bits))
	for i, bit := range bits {
		b, err := basis.RandomBasis()
		if err != nil {
			return nil, err
		}
		bases[i] = b
		if err := d.showFrame(basis.Encode(b, bit)); err != nil {
			return nil, err
		}
	}

	if err := d.showFrame(basis.White); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Write",
		"bits":     len(bits),
	}).Info("Display transmission complete")
	return bases, nil
}

func (d *Display) showFrame(s basis.Symbol) error {
	if err := d.sink.ShowFrame(s); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	time.Sleep(d.period)
	return nil
}

// Read is unsupported: the display node has no capture device.
func (d *Display) Read(count int) ([]basis.Symbol, error) {
	return nil, ErrReadUnsupported
}
