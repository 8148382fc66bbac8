package transport

import "github.com/opd-ai/qkd/session"

// Wire status codes, following the ETSI-style numbering of the RPC
// contract. Zero is success; everything else names a failure class.
const (
	CodeOK               = 0
	CodeMissingParameter = 1
	CodeInvalidHandle    = 2
	CodeAlreadyExists    = 3
	CodePeerFailure      = 4
	CodeNotReady         = 5
	CodeKeyNotReady      = 6
	CodeKeyFailed        = 7
)

// OpenRequest opens a new initiator session. An empty key handle asks the
// node to generate one.
type OpenRequest struct {
	KeyHandle string `json:"key_handle,omitempty"`
}

// OpenResponse returns the handle the session was opened under.
type OpenResponse struct {
	KeyHandle string `json:"key_handle,omitempty"`
	Status    int    `json:"status"`
	Error     string `json:"error,omitempty"`
}

// RegisterPeerRequest creates the responder-side session.
type RegisterPeerRequest struct {
	KeyHandle       string `json:"key_handle"`
	RequestedLength int    `json:"requested_length,omitempty"`
}

// ConnectBlockingRequest runs the handshake with an optional deadline.
type ConnectBlockingRequest struct {
	KeyHandle string `json:"key_handle"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// HandleRequest is the common body of calls that only name a session.
type HandleRequest struct {
	KeyHandle string `json:"key_handle"`
}

// ExchangeBasesRequest carries a node's bases in wire form ("+X+X...").
type ExchangeBasesRequest struct {
	KeyHandle string `json:"key_handle"`
	Bases     string `json:"bases"`
}

// StatusResponse is the generic reply of calls without a payload.
type StatusResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CheckPeerResponse answers a peer readiness probe.
type CheckPeerResponse struct {
	PeerReady bool `json:"peer_ready"`
	Status    int  `json:"status"`
}

// GetKeyResponse returns the hex-encoded sifted key once ready.
type GetKeyResponse struct {
	KeyBuffer string `json:"key_buffer,omitempty"`
	Status    int    `json:"status"`
	Error     string `json:"error,omitempty"`
}

// NodeStatusResponse exposes the session state and sifting diagnostics.
type NodeStatusResponse struct {
	State       string            `json:"state,omitempty"`
	Diagnostics session.SiftStats `json:"diagnostics"`
	Status      int               `json:"status"`
	Error       string            `json:"error,omitempty"`
}
