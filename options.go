package qkd

import (
	"time"

	"github.com/opd-ai/qkd/protocol"
	"github.com/opd-ai/qkd/transceiver"
)

// Options contains configuration for creating a Node. All values are fixed
// at process start; per-session variation happens only through the
// requested key length carried in the session itself.
type Options struct {
	// PeerURL is the base URL of the peer node, e.g. "http://10.0.0.2:5001".
	PeerURL string

	// TransceiverKind selects the channel implementation when no
	// Transceiver is injected.
	TransceiverKind transceiver.Kind

	// Transceiver, when non-nil, is used as-is. Tests and in-process
	// deployments inject loopback ends here.
	Transceiver transceiver.Transceiver

	// PeerClient performs outbound RPCs to the peer node. Required;
	// production nodes use transport.NewClient(PeerURL).
	PeerClient protocol.PeerClient

	// FrameSink is the display surface for the display transceiver.
	FrameSink transceiver.FrameSink

	// LED and Sensor are the devices for the hardware transceiver.
	LED    transceiver.LED
	Sensor transceiver.ColorSensor

	// SymbolPeriod is the time each symbol occupies on the channel.
	SymbolPeriod time.Duration

	// KeyLength is the default target sifted-key length in bits.
	KeyLength int

	// RawMultiplier scales KeyLength to the raw transmitted bit count.
	RawMultiplier int

	// PollInterval is the handshake polling cadence.
	PollInterval time.Duration

	// HandshakeTimeout is the default connect deadline when the caller
	// does not supply one.
	HandshakeTimeout time.Duration

	// CalibrateCycles, when positive, runs transceiver calibration before
	// the initiator's generating phase.
	CalibrateCycles int
}

// NewOptions returns Options with the standard defaults.
func NewOptions() *Options {
	return &Options{
		TransceiverKind:  transceiver.KindLoopback,
		SymbolPeriod:     500 * time.Millisecond,
		KeyLength:        256,
		RawMultiplier:    protocol.DefaultRawMultiplier,
		PollInterval:     protocol.DefaultPollInterval,
		HandshakeTimeout: 15 * time.Second,
	}
}
