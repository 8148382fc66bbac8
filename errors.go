package qkd

import "errors"

// Node-level sentinel errors, checked with errors.Is. Session and protocol
// errors (session.ErrNotFound, session.ErrAlreadyExists,
// protocol.ErrHandshakeTimeout, ...) propagate from the packages that
// define them.
var (
	// ErrPeerRegistrationFailed is returned by Open when the peer could
	// not register the responder session. The local session is rolled
	// back before this is returned.
	ErrPeerRegistrationFailed = errors.New("peer registration failed")

	// ErrKeyNotReady is returned by GetKey while the protocol is still
	// running. The wrapped message carries the current state name.
	ErrKeyNotReady = errors.New("key generation not complete")

	// ErrKeyFailed is returned by GetKey after a terminal failure. The
	// wrapped message carries the session's error text.
	ErrKeyFailed = errors.New("key generation failed")
)
