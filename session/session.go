package session

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/qkd/basis"
)

// Sentinel errors for state-machine violations.
var (
	// ErrNotReady is returned when a peer confirms a connection before
	// this node has itself called connect. The peer is expected to retry.
	ErrNotReady = errors.New("node not in connecting state")

	// ErrBusy is returned when a connect is attempted while the protocol
	// is already running for the handle.
	ErrBusy = errors.New("connection busy or already active")

	// ErrKeyConflict is returned when a second sifted key is offered for
	// a session that already holds one.
	ErrKeyConflict = errors.New("sifted key already set")
)

// Role identifies which half of the protocol a node runs for a session.
type Role uint8

const (
	// RoleInitiator transmits symbols ("Alice").
	RoleInitiator Role = iota
	// RoleResponder receives and measures symbols ("Bob").
	RoleResponder
)

// String returns the historical wire/log name of the role.
func (r Role) String() string {
	if r == RoleInitiator {
		return "alice"
	}
	return "bob"
}

// Status is the protocol state of a session. Transitions are monotone
// along the state graph except for the explicit reset performed by a
// reconnect, which returns the machine to StatusIdle.
type Status uint8

const (
	StatusIdle Status = iota
	StatusCalibrating
	StatusGenerating
	StatusTransmitting
	StatusReceiving
	StatusExchangingBases
	StatusSifting
	StatusReady
	StatusError
)

var statusNames = map[Status]string{
	StatusIdle:            "idle",
	StatusCalibrating:     "calibrating",
	StatusGenerating:      "generating",
	StatusTransmitting:    "transmitting",
	StatusReceiving:       "receiving",
	StatusExchangingBases: "exchanging_bases",
	StatusSifting:         "sifting",
	StatusReady:           "ready",
	StatusError:           "error",
}

// String returns the lowercase state name used on the wire and in logs.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// SiftStats carries the diagnostics recorded by the sifting engine. They
// are exposed for observability only; nothing in the protocol gates on them.
type SiftStats struct {
	Compared   int `json:"compared"`
	Matches    int `json:"matches"`
	Mismatches int `json:"mismatches"`
	Anomalies  int `json:"anomalies"`
	KeyBits    int `json:"key_bits"`
	// KeyFingerprint is a short hash of the sifted key, safe to log for
	// cross-node comparison without revealing the key itself.
	KeyFingerprint string `json:"key_fingerprint"`
}

// MismatchRate returns the basis-mismatch discard rate in percent. This is
// a coarse QBER approximation, not a true post-sifting bit error rate.
func (s SiftStats) MismatchRate() float64 {
	if s.Compared == 0 {
		return 0
	}
	return float64(s.Mismatches) / float64(s.Compared) * 100
}

// Session holds all state for one key-establishment run. Zero sessions are
// not usable; they are created by Store.Create.
type Session struct {
	mu sync.Mutex

	handle          string
	role            Role
	requestedLength int

	status         Status
	localConnected bool
	peerConnected  bool

	localBases []basis.Basis
	peerBases  []basis.Basis
	// rawBits is the transmitted random bitstream; initiator only.
	rawBits []byte
	// received is the ordered list of detected symbols; responder only.
	received []basis.Symbol

	siftedKey    string
	siftedKeySet bool
	stats        SiftStats
	errorMessage string
}

// Handle returns the session's key handle.
func (s *Session) Handle() string { return s.handle }

// Role returns the session's fixed role.
func (s *Session) Role() Role { return s.role }

// RequestedLength returns the target sifted-key length in bits.
func (s *Session) RequestedLength() int { return s.requestedLength }

// Status returns the current protocol state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot is a consistent copy of the session's observable state.
type Snapshot struct {
	Handle          string
	Role            Role
	RequestedLength int
	Status          Status
	LocalConnected  bool
	PeerConnected   bool
	LocalBases      []basis.Basis
	PeerBases       []basis.Basis
	RawBits         []byte
	Received        []basis.Symbol
	SiftedKey       string
	Stats           SiftStats
	ErrorMessage    string
}

// Snapshot copies the observable session state under the lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Handle:          s.handle,
		Role:            s.role,
		RequestedLength: s.requestedLength,
		Status:          s.status,
		LocalConnected:  s.localConnected,
		PeerConnected:   s.peerConnected,
		LocalBases:      append([]basis.Basis(nil), s.localBases...),
		PeerBases:       append([]basis.Basis(nil), s.peerBases...),
		RawBits:         append([]byte(nil), s.rawBits...),
		Received:        append([]basis.Symbol(nil), s.received...),
		SiftedKey:       s.siftedKey,
		Stats:           s.stats,
		ErrorMessage:    s.errorMessage,
	}
}

// ResetForConnect prepares the session for a (re)connect handshake. It
// clears all protocol state left over from a previous run and marks this
// node as locally connected. A connect is only legal from idle, ready or
// error; anything else means the protocol is mid-flight and the call fails
// with ErrBusy.
func (s *Session) ResetForConnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusIdle, StatusReady, StatusError:
	default:
		logrus.WithFields(logrus.Fields{
			"function":   "ResetForConnect",
			"key_handle": s.handle,
			"status":     s.status.String(),
		}).Warn("Connect rejected while protocol active")
		return ErrBusy
	}

	s.status = StatusIdle
	s.errorMessage = ""
	s.localConnected = true
	s.peerConnected = false
	s.localBases = nil
	s.peerBases = nil
	s.rawBits = nil
	s.received = nil
	s.siftedKey = ""
	s.siftedKeySet = false
	s.stats = SiftStats{}

	logrus.WithFields(logrus.Fields{
		"function":   "ResetForConnect",
		"key_handle": s.handle,
		"role":       s.role.String(),
	}).Info("Session reset for handshake")
	return nil
}

// MarkPeerConnected records an inbound "I am connecting" confirmation from
// the peer. It fails with ErrNotReady if this node has not itself entered
// the handshake yet; the peer retries until it has.
func (s *Session) MarkPeerConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.localConnected {
		return ErrNotReady
	}
	s.peerConnected = true
	return nil
}

// SetPeerConnectedOptimistic marks the peer connected from this node's own
// polling loop, after a successful connect_peer call to the peer.
func (s *Session) SetPeerConnectedOptimistic() {
	s.mu.Lock()
	s.peerConnected = true
	s.mu.Unlock()
}

// PeerConnected reports whether the peer has confirmed the handshake.
func (s *Session) PeerConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerConnected
}

// LocalConnected reports whether this node has entered the handshake.
func (s *Session) LocalConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localConnected
}

// AbortHandshake reverts the local-connected flag and records the handshake
// failure, leaving the session in the error state.
func (s *Session) AbortHandshake(msg string) {
	s.mu.Lock()
	s.localConnected = false
	s.status = StatusError
	s.errorMessage = msg
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "AbortHandshake",
		"key_handle": s.handle,
		"error":      msg,
	}).Error("Handshake aborted")
}

// SetStatus moves the state machine forward. Used by the role executor for
// its linear progression; concurrent sift triggers go through
// TryStartSifting instead.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// SetLocalResult records the outcome of this node's transmit/receive phase:
// the bases actually used plus the role-specific raw material. For the
// initiator received is nil; for the responder rawBits is nil.
func (s *Session) SetLocalResult(bases []basis.Basis, rawBits []byte, received []basis.Symbol) {
	s.mu.Lock()
	s.localBases = bases
	s.rawBits = rawBits
	s.received = received
	s.mu.Unlock()
}

// LocalBases returns a copy of the bases this node used.
func (s *Session) LocalBases() []basis.Basis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]basis.Basis(nil), s.localBases...)
}

// SetPeerBases stores bases received from the peer. The store is
// unconditional: bases routinely arrive before the local side has finished
// its own phase, and that ordering is expected, not an error. When the
// local side is mid-protocol the status advances to exchanging_bases.
func (s *Session) SetPeerBases(bases []basis.Basis) {
	s.mu.Lock()
	s.peerBases = bases
	switch s.status {
	case StatusGenerating, StatusTransmitting, StatusReceiving:
		s.status = StatusExchangingBases
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "SetPeerBases",
		"key_handle": s.handle,
		"count":      len(bases),
	}).Info("Stored peer bases")
}

// TryStartSifting atomically checks the sifting precondition and, if it
// holds, transitions the session to the sifting state. It returns true only
// for the single caller that wins the transition; both trigger sites (role
// executor tail and basis-exchange handler) call this and only the winner
// computes the key.
//
// The precondition: local bases present, peer bases present, and the
// role-specific raw material present (transmitted bits for the initiator,
// detected symbols for the responder).
func (s *Session) TryStartSifting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusSifting, StatusReady, StatusError:
		return false
	}
	if len(s.localBases) == 0 || len(s.peerBases) == 0 {
		return false
	}
	switch s.role {
	case RoleInitiator:
		if len(s.rawBits) == 0 {
			return false
		}
	case RoleResponder:
		if len(s.received) == 0 {
			return false
		}
	}

	s.status = StatusSifting
	logrus.WithFields(logrus.Fields{
		"function":   "TryStartSifting",
		"key_handle": s.handle,
		"role":       s.role.String(),
	}).Info("Sifting precondition met, transition won")
	return true
}

// CompleteSift records the sifted key and diagnostics and moves the session
// to ready. The key is write-once; a second completion fails with
// ErrKeyConflict and leaves the first key in place.
func (s *Session) CompleteSift(keyHex string, stats SiftStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.siftedKeySet {
		return ErrKeyConflict
	}
	s.siftedKey = keyHex
	s.siftedKeySet = true
	s.stats = stats
	s.status = StatusReady
	return nil
}

// Fail moves the session to the error state with a descriptive message.
func (s *Session) Fail(msg string) {
	s.mu.Lock()
	s.status = StatusError
	s.errorMessage = msg
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Fail",
		"key_handle": s.handle,
		"error":      msg,
	}).Error("Session failed")
}

// Key returns the sifted key and whether it has been set.
func (s *Session) Key() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.siftedKey, s.siftedKeySet
}

// ErrorMessage returns the terminal failure message, if any.
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMessage
}

// Stats returns the sifting diagnostics recorded for the session.
func (s *Session) Stats() SiftStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
