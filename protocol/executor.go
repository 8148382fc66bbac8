package protocol

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/qkd/basis"
	"github.com/opd-ai/qkd/session"
)

// runInitiator executes the transmit half of the protocol: generate the
// raw random bitstream, hand it to the transceiver, record the bases the
// channel used, then exchange bases with the peer. Sifting is event-driven
// from here on; this goroutine does not block waiting for the peer.
func (e *Engine) runInitiator(sess *session.Session) {
	handle := sess.Handle()
	rawCount := sess.RequestedLength() * e.cfg.RawMultiplier

	logrus.WithFields(logrus.Fields{
		"function":   "runInitiator",
		"key_handle": handle,
		"raw_bits":   rawCount,
	}).Info("Starting QKD protocol as initiator")

	if e.cfg.CalibrateCycles > 0 {
		sess.SetStatus(session.StatusCalibrating)
		if err := e.trx.Calibrate(e.cfg.CalibrateCycles); err != nil {
			sess.Fail(fmt.Sprintf("calibration failed: %v", err))
			return
		}
	}

	sess.SetStatus(session.StatusGenerating)
	bits, err := basis.RandomBits(rawCount)
	if err != nil {
		sess.Fail(fmt.Sprintf("raw bit generation failed: %v", err))
		return
	}

	sess.SetStatus(session.StatusTransmitting)
	bases, err := e.trx.Write(bits)
	if err != nil {
		sess.Fail(fmt.Sprintf("transceiver write failed: %v", err))
		return
	}
	if len(bases) != len(bits) {
		sess.Fail(fmt.Sprintf("%v: wrote %d bits, got %d bases",
			ErrLengthMismatch, len(bits), len(bases)))
		return
	}
	sess.SetLocalResult(bases, bits, nil)

	logrus.WithFields(logrus.Fields{
		"function":   "runInitiator",
		"key_handle": handle,
		"raw_bits":   len(bits),
	}).Info("Transmission complete")

	// Peer bases may have arrived while the write was in flight.
	e.maybeSift(sess)

	if !e.sendBases(sess, bases) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":   "runInitiator",
		"key_handle": handle,
	}).Info("Waiting for peer bases")
}

// runResponder executes the receive half: choose measurement bases
// independently of the initiator, read the channel, then exchange bases.
// A short read is recoverable; the local bases are truncated so both sides
// index over the same range during sifting.
func (e *Engine) runResponder(sess *session.Session) {
	handle := sess.Handle()
	rawCount := sess.RequestedLength() * e.cfg.RawMultiplier

	logrus.WithFields(logrus.Fields{
		"function":   "runResponder",
		"key_handle": handle,
		"raw_bits":   rawCount,
	}).Info("Starting QKD protocol as responder")

	sess.SetStatus(session.StatusGenerating)
	bases, err := basis.RandomBases(rawCount)
	if err != nil {
		sess.Fail(fmt.Sprintf("basis generation failed: %v", err))
		return
	}

	sess.SetStatus(session.StatusReceiving)
	symbols, err := e.trx.Read(rawCount)
	if err != nil {
		sess.Fail(fmt.Sprintf("transceiver read failed: %v", err))
		return
	}
	if len(symbols) != len(bases) {
		logrus.WithFields(logrus.Fields{
			"function":   "runResponder",
			"key_handle": handle,
			"expected":   len(bases),
			"detected":   len(symbols),
		}).Warn("Short read, truncating local bases to detected length")
		if len(symbols) < len(bases) {
			bases = bases[:len(symbols)]
		} else {
			symbols = symbols[:len(bases)]
		}
	}
	sess.SetLocalResult(bases, nil, symbols)

	logrus.WithFields(logrus.Fields{
		"function":   "runResponder",
		"key_handle": handle,
		"detected":   len(symbols),
	}).Info("Reception complete")

	e.maybeSift(sess)

	if !e.sendBases(sess, bases) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":   "runResponder",
		"key_handle": handle,
	}).Info("Waiting for peer bases")
}
