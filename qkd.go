// Package qkd coordinates a simulated BB84 quantum-key-distribution
// exchange between two peer nodes, each exposing the same small RPC surface
// modeled on the ETSI QKD API.
//
// A Node plays the initiator ("Alice", transmitting) or responder ("Bob",
// receiving) role per session. The client-facing flow:
//
//	opts := qkd.NewOptions()
//	opts.PeerURL = "http://peer:5001"
//	opts.KeyLength = 256
//
//	node, err := qkd.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	handle, err := node.Open(ctx, "")          // registers on the peer too
//	err = node.ConnectBlocking(ctx, handle, 0) // handshake, then async protocol
//	key, err := node.GetKey(handle)            // poll until ready
//
// The peer-to-peer half of the surface (ConnectPeer, CheckPeerConnection,
// ExchangeBases, ClosePeer) is called by the remote node through the
// transport package, never by clients.
package qkd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/qkd/basis"
	"github.com/opd-ai/qkd/protocol"
	"github.com/opd-ai/qkd/session"
	"github.com/opd-ai/qkd/transceiver"
)

// closePeerTimeout bounds the best-effort close notification to the peer.
const closePeerTimeout = 2 * time.Second

// Node is one QKD endpoint: a session store, a protocol engine, a
// transceiver, and a client toward the peer node.
type Node struct {
	opts   *Options
	store  *session.Store
	engine *protocol.Engine
	peer   protocol.PeerClient
	trx    transceiver.Transceiver
	// loopPeer is the far end of the loopback channel when the node built
	// its own loopback transceiver; nil otherwise.
	loopPeer transceiver.Transceiver
}

// New creates a Node from the options. The transceiver is built from
// TransceiverKind unless one is injected. A PeerClient is required; the
// usual choice is transport.NewClient(opts.PeerURL), wired in by the
// process entrypoint.
func New(opts *Options) (*Node, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.PeerClient == nil {
		return nil, fmt.Errorf("options: PeerClient is required")
	}

	trx := opts.Transceiver
	var loopPeer transceiver.Transceiver
	if trx == nil {
		var err error
		trx, loopPeer, err = buildTransceiver(opts)
		if err != nil {
			return nil, err
		}
	}

	peer := opts.PeerClient

	store := session.NewStore()
	engine := protocol.NewEngine(store, peer, trx, protocol.Config{
		RawMultiplier:   opts.RawMultiplier,
		PollInterval:    opts.PollInterval,
		CalibrateCycles: opts.CalibrateCycles,
	})

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"peer_url":    opts.PeerURL,
		"transceiver": string(opts.TransceiverKind),
		"key_length":  opts.KeyLength,
	}).Info("QKD node created")

	return &Node{
		opts:     opts,
		store:    store,
		engine:   engine,
		peer:     peer,
		trx:      trx,
		loopPeer: loopPeer,
	}, nil
}

// buildTransceiver constructs the channel for the configured kind. For the
// loopback kind it also returns the far end of the pair, which a second
// in-process node must consume for symbols to go anywhere.
func buildTransceiver(opts *Options) (transceiver.Transceiver, transceiver.Transceiver, error) {
	switch opts.TransceiverKind {
	case transceiver.KindDisplay:
		return transceiver.NewDisplay(opts.FrameSink, opts.SymbolPeriod), nil, nil
	case transceiver.KindHardware:
		return transceiver.NewHardware(opts.LED, opts.Sensor, opts.SymbolPeriod), nil, nil
	case transceiver.KindLoopback:
		end, far := transceiver.NewLoopbackPair()
		return end, far, nil
	}
	return nil, nil, fmt.Errorf("unknown transceiver kind %q", opts.TransceiverKind)
}

// Store exposes the session store, mainly for tests and diagnostics.
func (n *Node) Store() *session.Store { return n.store }

// LoopbackPeer returns the far end of this node's loopback channel, for
// injection into a second in-process node via Options.Transceiver. It is
// nil unless the node built its own loopback transceiver, so the loopback
// kind only pairs nodes inside one process; cross-process deployments use
// the display or hardware kinds.
func (n *Node) LoopbackPeer() transceiver.Transceiver { return n.loopPeer }

// Open creates an initiator session and registers the same handle on the
// peer. An empty handle is replaced by a generated one; the chosen handle
// is returned. If peer registration fails the local session is rolled back
// and ErrPeerRegistrationFailed returned.
func (n *Node) Open(ctx context.Context, handle string) (string, error) {
	if handle == "" {
		handle = uuid.NewString()
	}

	if _, err := n.store.Create(handle, session.RoleInitiator, n.opts.KeyLength); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Open",
		"key_handle": handle,
	}).Info("Initiating as alice, registering handle on peer")

	if err := n.peer.RegisterPeer(ctx, handle, n.opts.KeyLength); err != nil {
		n.store.Delete(handle)
		return "", fmt.Errorf("%w: %v", ErrPeerRegistrationFailed, err)
	}
	return handle, nil
}

// RegisterPeer creates the responder-side session for a handle opened by
// the peer. A non-positive requested length falls back to the node default.
func (n *Node) RegisterPeer(handle string, requestedLength int) error {
	if requestedLength <= 0 {
		requestedLength = n.opts.KeyLength
	}
	_, err := n.store.Create(handle, session.RoleResponder, requestedLength)
	return err
}

// ConnectBlocking runs the handshake for the handle, blocking until both
// peers are mutually connected or the timeout expires. On success the role
// executor is already running asynchronously when this returns; clients
// poll GetKey for progress. A non-positive timeout uses the node default.
func (n *Node) ConnectBlocking(ctx context.Context, handle string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = n.opts.HandshakeTimeout
	}
	return n.engine.Connect(ctx, handle, timeout)
}

// ConnectPeer records the peer's handshake confirmation for the handle.
func (n *Node) ConnectPeer(handle string) error {
	return n.engine.AcceptPeerConnect(handle)
}

// CheckPeerConnection reports whether this node has entered the handshake
// for the handle.
func (n *Node) CheckPeerConnection(handle string) (bool, error) {
	return n.engine.CheckReady(handle)
}

// ExchangeBases stores the peer's bases for the handle and re-evaluates
// the sifting trigger.
func (n *Node) ExchangeBases(handle string, bases []basis.Basis) error {
	return n.engine.AcceptBases(handle, bases)
}

// GetKey is the single client poll point. It returns the hex-encoded
// sifted key once ready, ErrKeyNotReady (wrapping the current state name)
// while the protocol runs, or ErrKeyFailed (wrapping the failure message)
// after a terminal error.
func (n *Node) GetKey(handle string) (string, error) {
	sess, err := n.store.Get(handle)
	if err != nil {
		return "", err
	}

	switch sess.Status() {
	case session.StatusReady:
		if key, ok := sess.Key(); ok {
			return key, nil
		}
		return "", fmt.Errorf("%w (status: %s)", ErrKeyNotReady, session.StatusReady)
	case session.StatusError:
		return "", fmt.Errorf("%w: %s", ErrKeyFailed, sess.ErrorMessage())
	default:
		return "", fmt.Errorf("%w (status: %s)", ErrKeyNotReady, sess.Status())
	}
}

// Status returns the session's current state and sifting diagnostics.
func (n *Node) Status(handle string) (session.Status, session.SiftStats, error) {
	sess, err := n.store.Get(handle)
	if err != nil {
		return 0, session.SiftStats{}, err
	}
	return sess.Status(), sess.Stats(), nil
}

// Close deletes the session for the handle and notifies the peer on a
// best-effort basis; a peer failure does not block local cleanup. An
// unknown handle is an error for this explicit form of close.
func (n *Node) Close(ctx context.Context, handle string) error {
	if _, err := n.store.Get(handle); err != nil {
		return err
	}

	notifyCtx, cancel := context.WithTimeout(ctx, closePeerTimeout)
	defer cancel()
	if err := n.peer.ClosePeer(notifyCtx, handle); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Close",
			"key_handle": handle,
			"error":      err,
		}).Warn("Peer unreachable during close, cleaning up locally anyway")
	}

	n.store.Delete(handle)
	return nil
}

// ClosePeer deletes the session on behalf of the peer. Unlike Close it is
// idempotent: an already-absent handle is a no-op.
func (n *Node) ClosePeer(handle string) {
	n.store.Delete(handle)
}
