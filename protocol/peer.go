package protocol

import (
	"context"
	"errors"

	"github.com/opd-ai/qkd/basis"
)

// Protocol-level errors.
var (
	// ErrHandshakeTimeout is returned when the connect handshake does not
	// complete within the caller-supplied deadline.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrLengthMismatch is returned when the transceiver's Write reports
	// a basis count different from the number of bits handed to it.
	ErrLengthMismatch = errors.New("transceiver returned mismatched basis count")

	// ErrSiftingDataMissing is returned when sifting starts without the
	// role-specific raw material it needs.
	ErrSiftingDataMissing = errors.New("missing data required for sifting")

	// ErrPeerNotReady is reported by a peer that received our connect
	// confirmation before entering the handshake itself. Retryable.
	ErrPeerNotReady = errors.New("peer not in connecting state")

	// ErrPeerUnreachable is returned when a peer call fails at the
	// transport level.
	ErrPeerUnreachable = errors.New("peer unreachable")
)

// PeerClient is the outbound RPC surface toward the peer node. The HTTP
// implementation lives in the transport package; tests link two engines
// directly with an in-process implementation.
type PeerClient interface {
	// RegisterPeer asks the peer to create the responder-side session.
	RegisterPeer(ctx context.Context, handle string, requestedLength int) error

	// ConnectPeer confirms to the peer that this node is connecting.
	ConnectPeer(ctx context.Context, handle string) error

	// CheckPeerConnection asks whether the peer has locally entered the
	// handshake for the handle.
	CheckPeerConnection(ctx context.Context, handle string) (bool, error)

	// ExchangeBases posts this node's bases to the peer.
	ExchangeBases(ctx context.Context, handle string, bases []basis.Basis) error

	// ClosePeer tells the peer to drop its session for the handle.
	ClosePeer(ctx context.Context, handle string) error
}
