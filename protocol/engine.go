package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/qkd/basis"
	"github.com/opd-ai/qkd/session"
	"github.com/opd-ai/qkd/transceiver"
)

// Default engine tuning.
const (
	// DefaultRawMultiplier is the ratio of raw transmitted bits to the
	// requested sifted-key length, compensating for the ~50% loss from
	// basis mismatch.
	DefaultRawMultiplier = 4

	// DefaultPollInterval is the handshake polling cadence.
	DefaultPollInterval = 500 * time.Millisecond

	// basisSendTimeout bounds the post of local bases to the peer.
	basisSendTimeout = 10 * time.Second
)

// Config tunes an Engine. The zero value gets the defaults.
type Config struct {
	// RawMultiplier scales the requested key length to the raw bit count.
	RawMultiplier int

	// PollInterval is the delay between handshake probes of the peer.
	PollInterval time.Duration

	// CalibrateCycles, when positive, makes the initiator run that many
	// transceiver calibration cycles before generating data.
	CalibrateCycles int
}

func (c Config) withDefaults() Config {
	if c.RawMultiplier <= 0 {
		c.RawMultiplier = DefaultRawMultiplier
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Engine runs the local half of the protocol for every session in a store.
type Engine struct {
	store *session.Store
	peer  PeerClient
	trx   transceiver.Transceiver
	cfg   Config
}

// NewEngine creates an engine over the given store, peer client and
// transceiver.
func NewEngine(store *session.Store, peer PeerClient, trx transceiver.Transceiver, cfg Config) *Engine {
	return &Engine{store: store, peer: peer, trx: trx, cfg: cfg.withDefaults()}
}

// Connect runs the handshake for the handle and, on success, starts the
// role executor on its own goroutine and returns. It blocks for at most
// timeout; on expiry the session reverts to the error state and
// ErrHandshakeTimeout is returned.
//
// The handshake is symmetric: each side marks itself locally connected,
// then alternates between watching for an inbound confirmation from the
// peer and probing the peer's readiness. Once the peer reports ready, this
// side confirms via ConnectPeer and optimistically records the peer as
// connected.
func (e *Engine) Connect(ctx context.Context, handle string, timeout time.Duration) error {
	sess, err := e.store.Get(handle)
	if err != nil {
		return err
	}
	if err := sess.ResetForConnect(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Connect",
		"key_handle": handle,
		"role":       sess.Role().String(),
		"timeout":    timeout,
	}).Info("Starting handshake")

	deadline := time.Now().Add(timeout)
	for !sess.PeerConnected() {
		if time.Now().After(deadline) {
			sess.AbortHandshake("timeout during handshake")
			return ErrHandshakeTimeout
		}
		if err := ctx.Err(); err != nil {
			sess.AbortHandshake(fmt.Sprintf("handshake canceled: %v", err))
			return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}

		if e.probePeer(ctx, sess) {
			break
		}
		time.Sleep(e.cfg.PollInterval)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Connect",
		"key_handle": handle,
		"role":       sess.Role().String(),
	}).Info("Handshake complete, starting role executor")

	go e.run(sess)
	return nil
}

// probePeer performs one handshake polling round: ask the peer whether it
// is ready and, if so, confirm the connection. Returns true once the peer
// is considered connected. Transport errors are tolerated and retried
// until the caller's deadline.
func (e *Engine) probePeer(ctx context.Context, sess *session.Session) bool {
	ready, err := e.peer.CheckPeerConnection(ctx, sess.Handle())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "probePeer",
			"key_handle": sess.Handle(),
			"error":      err,
		}).Debug("Peer readiness probe failed, retrying")
		return false
	}
	if !ready {
		return false
	}

	if err := e.peer.ConnectPeer(ctx, sess.Handle()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "probePeer",
			"key_handle": sess.Handle(),
			"error":      err,
		}).Debug("Peer connect confirmation failed, retrying")
		return false
	}

	sess.SetPeerConnectedOptimistic()
	return true
}

// AcceptPeerConnect handles an inbound "I am connecting" confirmation from
// the peer. session.ErrNotReady tells the peer to retry because this node
// has not entered the handshake yet.
func (e *Engine) AcceptPeerConnect(handle string) error {
	sess, err := e.store.Get(handle)
	if err != nil {
		return err
	}
	if err := sess.MarkPeerConnected(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "AcceptPeerConnect",
		"key_handle": handle,
	}).Info("Peer confirmation received")
	return nil
}

// CheckReady reports whether this node has locally entered the handshake
// for the handle.
func (e *Engine) CheckReady(handle string) (bool, error) {
	sess, err := e.store.Get(handle)
	if err != nil {
		return false, err
	}
	return sess.LocalConnected(), nil
}

// AcceptBases handles the peer's basis-exchange message: store the bases
// unconditionally (arrival before the local phase finishes is the normal
// race) and re-evaluate the sifting precondition.
func (e *Engine) AcceptBases(handle string, bases []basis.Basis) error {
	sess, err := e.store.Get(handle)
	if err != nil {
		return err
	}
	sess.SetPeerBases(bases)
	e.maybeSift(sess)
	return nil
}

// run dispatches the role executor after a successful handshake.
func (e *Engine) run(sess *session.Session) {
	switch sess.Role() {
	case session.RoleInitiator:
		e.runInitiator(sess)
	case session.RoleResponder:
		e.runResponder(sess)
	}
}

// maybeSift fires the sifting engine when this caller wins the atomic
// transition; losing the race is a silent no-op.
func (e *Engine) maybeSift(sess *session.Session) {
	if sess.TryStartSifting() {
		go e.sift(sess)
	}
}

// sendBases posts the local bases to the peer. No session lock is held
// across the call. A transport failure is terminal for the session: the
// peer is left without our bases and can never sift, so the session moves
// to the error state.
func (e *Engine) sendBases(sess *session.Session, bases []basis.Basis) bool {
	ctx, cancel := context.WithTimeout(context.Background(), basisSendTimeout)
	defer cancel()

	if err := e.peer.ExchangeBases(ctx, sess.Handle(), bases); err != nil {
		sess.Fail(fmt.Sprintf("failed to send bases to peer: %v", err))
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function":   "sendBases",
		"key_handle": sess.Handle(),
		"count":      len(bases),
	}).Info("Bases sent to peer")
	return true
}
