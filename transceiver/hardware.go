package transceiver

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/qkd/basis"
)

// LED drives the emitting side of a hardware node. Set(basis.None) turns
// the emitter off; basis.White lights all channels.
type LED interface {
	Set(s basis.Symbol) error
}

// ColorSensor exposes a pulse-counting color sensor (a TCS3200-style
// light-to-frequency converter): Pulses counts output pulses on one color
// channel filter for the given window. Higher counts mean more light of
// that color.
type ColorSensor interface {
	Pulses(channel basis.Symbol, window time.Duration) (int, error)
}

// PinConfig carries the GPIO wiring of the reference hardware build. It is
// plain data handed to whatever LED/ColorSensor adapters the deployment
// uses; the transceiver itself never touches pins.
type PinConfig struct {
	RedPin   int
	GreenPin int
	BluePin  int

	S0, S1, S2, S3 int
	Out            int
	SensorLED      int
}

// DefaultPins is the wiring of the reference Raspberry Pi build.
func DefaultPins() PinConfig {
	return PinConfig{
		RedPin: 17, GreenPin: 27, BluePin: 22,
		S0: 3, S1: 2, S2: 20, S3: 16,
		Out: 21, SensorLED: 4,
	}
}

// maxSignalWait bounds how many symbol periods a read will wait for the
// white start or end marker before giving up.
const maxSignalWait = 10

// samplesPerSymbol is how many sensor samples vote on each symbol period.
const samplesPerSymbol = 4

// Hardware is the LED/color-sensor transceiver. Each symbol period is
// sampled four times and the detected symbol decided by majority vote;
// transmissions are framed by white markers on both ends.
type Hardware struct {
	led    LED
	sensor ColorSensor
	period time.Duration
}

// NewHardware creates a hardware transceiver over the given devices. Either
// device may be nil when the node only plays one role; the corresponding
// operation then fails.
func NewHardware(led LED, sensor ColorSensor, period time.Duration) *Hardware {
	return &Hardware{led: led, sensor: sensor, period: period}
}

// Calibrate cycles Red/Green/Blue on the emitter so the peer's sensor can
// be characterized, ending with the emitter off.
func (h *Hardware) Calibrate(cycles int) error {
	if h.led == nil {
		return fmt.Errorf("%w: no emitter attached", ErrWriteFailed)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Calibrate",
		"cycles":   cycles,
	}).Info("Starting hardware calibration")

	defer h.led.Set(basis.None)
	for i := 0; i < cycles; i++ {
		for _, s := range []basis.Symbol{basis.Red, basis.Green, basis.Blue} {
			if err := h.led.Set(s); err != nil {
				return fmt.Errorf("%w: calibration: %v", ErrWriteFailed, err)
			}
			time.Sleep(h.period)
		}
	}
	return nil
}

// Write encodes each bit under a freshly chosen random basis and emits the
// symbol on the LED for one period, framed by white start and end markers.
// The bases used are returned in transmission order.
func (h *Hardware) Write(bits []byte) ([]basis.Basis, error) {
	if h.led == nil {
		return nil, fmt.Errorf("%w: no emitter attached", ErrWriteFailed)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Write",
		"bits":     len(bits),
	}).Info("Starting hardware transmission")

	defer h.led.Set(basis.None)

	if err := h.emit(basis.White); err != nil {
		return nil, err
	}

	bases := make([]basis.Basis, len(bits))
	for i, bit := range bits {
		b, err := basis.RandomBasis()
		if err != nil {
			return nil, err
		}
		bases[i] = b
		if err := h.emit(basis.Encode(b, bit)); err != nil {
			return nil, err
		}
	}

	if err := h.emit(basis.White); err != nil {
		return nil, err
	}
	return bases, nil
}

func (h *Hardware) emit(s basis.Symbol) error {
	if err := h.led.Set(s); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	time.Sleep(h.period)
	return nil
}

// Read waits for the white start marker, then samples count symbol periods
// and returns the detected symbols in order. A missing start marker fails
// the read; a missing end marker is logged and tolerated, since the data
// symbols are already in hand. The result may be shorter than count only
// through sensor failure mid-read, in which case the symbols read so far
// are returned along with no error.
func (h *Hardware) Read(count int) ([]basis.Symbol, error) {
	if h.sensor == nil {
		return nil, ErrReadUnsupported
	}
	logrus.WithFields(logrus.Fields{
		"function": "Read",
		"count":    count,
	}).Info("Starting hardware reception")

	if !h.awaitMarker() {
		return nil, fmt.Errorf("%w: timeout waiting for start signal", ErrReadFailed)
	}

	symbols := make([]basis.Symbol, 0, count)
	for i := 0; i < count; i++ {
		s, err := h.readSymbol()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Read",
				"index":    i,
				"error":    err,
			}).Warn("Sensor failed mid-read, returning partial data")
			return symbols, nil
		}
		symbols = append(symbols, s)
	}

	if !h.awaitMarker() {
		logrus.WithFields(logrus.Fields{
			"function": "Read",
		}).Warn("Timeout waiting for end signal")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Read",
		"detected": len(symbols),
	}).Info("Hardware reception complete")
	return symbols, nil
}

// awaitMarker watches the channel for up to maxSignalWait symbol periods
// and reports whether a white frame was seen.
func (h *Hardware) awaitMarker() bool {
	for i := 0; i < maxSignalWait; i++ {
		s, err := h.readSymbol()
		if err == nil && s == basis.White {
			return true
		}
	}
	return false
}

// readSymbol samples one symbol period: four evenly spaced samples, each
// classifying the dominant channel, then a majority vote with non-detections
// filtered out.
func (h *Hardware) readSymbol() (basis.Symbol, error) {
	sampleTime := h.period / samplesPerSymbol
	window := sampleTime / 3

	votes := make(map[basis.Symbol]int)
	for i := 0; i < samplesPerSymbol; i++ {
		start := time.Now()
		s, err := h.sample(window)
		if err != nil {
			return basis.None, err
		}
		if s != basis.None {
			votes[s]++
		}
		if rest := sampleTime - time.Since(start); rest > 0 {
			time.Sleep(rest)
		}
	}

	winner := basis.None
	best := 0
	for s, n := range votes {
		if n > best {
			winner, best = s, n
		}
	}
	return winner, nil
}

// sample reads all three channel filters once and classifies the result.
// Balanced strong readings on all channels classify as the white marker;
// otherwise the strongest channel wins, or None when nothing registered.
func (h *Hardware) sample(window time.Duration) (basis.Symbol, error) {
	counts := make(map[basis.Symbol]int, 3)
	for _, ch := range []basis.Symbol{basis.Red, basis.Green, basis.Blue} {
		n, err := h.sensor.Pulses(ch, window)
		if err != nil {
			return basis.None, fmt.Errorf("%w: %v", ErrReadFailed, err)
		}
		counts[ch] = n
	}

	minC, maxC := counts[basis.Red], counts[basis.Red]
	winner := basis.Red
	for _, ch := range []basis.Symbol{basis.Green, basis.Blue} {
		if counts[ch] < minC {
			minC = counts[ch]
		}
		if counts[ch] > maxC {
			maxC = counts[ch]
			winner = ch
		}
	}

	if maxC <= 0 {
		return basis.None, nil
	}
	// All channels lit and roughly balanced reads as the white marker.
	if minC*2 >= maxC {
		return basis.White, nil
	}
	return winner, nil
}
