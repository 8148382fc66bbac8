package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/qkd"
	"github.com/opd-ai/qkd/basis"
	"github.com/opd-ai/qkd/protocol"
	"github.com/opd-ai/qkd/session"
)

// API is the node surface the server exposes. *qkd.Node satisfies it.
type API interface {
	Open(ctx context.Context, handle string) (string, error)
	RegisterPeer(handle string, requestedLength int) error
	ConnectBlocking(ctx context.Context, handle string, timeout time.Duration) error
	ConnectPeer(handle string) error
	CheckPeerConnection(handle string) (bool, error)
	ExchangeBases(handle string, bases []basis.Basis) error
	GetKey(handle string) (string, error)
	Status(handle string) (session.Status, session.SiftStats, error)
	Close(ctx context.Context, handle string) error
	ClosePeer(handle string)
}

// Server exposes a node's RPC surface over HTTP.
type Server struct {
	api API
	mux *http.ServeMux
}

// NewServer wires the RPC routes onto a fresh mux.
func NewServer(api API) *Server {
	s := &Server{api: api, mux: http.NewServeMux()}
	s.mux.HandleFunc("/qkd_open", s.handleOpen)
	s.mux.HandleFunc("/qkd_register_peer", s.handleRegisterPeer)
	s.mux.HandleFunc("/qkd_connect_blocking", s.handleConnectBlocking)
	s.mux.HandleFunc("/qkd_connect_peer", s.handleConnectPeer)
	s.mux.HandleFunc("/qkd_check_peer_connection", s.handleCheckPeerConnection)
	s.mux.HandleFunc("/qkd_exchange_bases", s.handleExchangeBases)
	s.mux.HandleFunc("/qkd_get_key", s.handleGetKey)
	s.mux.HandleFunc("/qkd_status", s.handleStatus)
	s.mux.HandleFunc("/qkd_close", s.handleClose)
	s.mux.HandleFunc("/qkd_close_peer", s.handleClosePeer)
	return s
}

// Handler returns the HTTP handler for embedding in a custom server.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves the RPC surface on the address, blocking.
func (s *Server) ListenAndServe(addr string) error {
	logrus.WithFields(logrus.Fields{
		"function": "ListenAndServe",
		"addr":     addr,
	}).Info("QKD node listening")
	return http.ListenAndServe(addr, s.mux)
}

// mapError translates node errors into a wire code and HTTP status.
func mapError(err error) (code, httpStatus int) {
	switch {
	case err == nil:
		return CodeOK, http.StatusOK
	case errors.Is(err, session.ErrNotFound):
		return CodeInvalidHandle, http.StatusBadRequest
	case errors.Is(err, session.ErrAlreadyExists):
		return CodeAlreadyExists, http.StatusBadRequest
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrBusy):
		return CodeNotReady, http.StatusBadRequest
	case errors.Is(err, basis.ErrInvalidBasis):
		return CodeMissingParameter, http.StatusBadRequest
	case errors.Is(err, protocol.ErrHandshakeTimeout):
		return CodePeerFailure, http.StatusBadRequest
	case errors.Is(err, qkd.ErrPeerRegistrationFailed):
		return CodePeerFailure, http.StatusInternalServerError
	case errors.Is(err, qkd.ErrKeyNotReady):
		return CodeKeyNotReady, http.StatusBadRequest
	case errors.Is(err, qkd.ErrKeyFailed):
		return CodeKeyFailed, http.StatusInternalServerError
	default:
		return CodePeerFailure, http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, httpStatus int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "writeJSON",
			"error":    err,
		}).Error("Failed to encode response")
	}
}

// decode parses the request body into dst, enforcing POST. It writes the
// error response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, StatusResponse{
			Status: CodeMissingParameter, Error: "POST required",
		})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, StatusResponse{
			Status: CodeMissingParameter, Error: "malformed request body",
		})
		return false
	}
	return true
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if !decode(w, r, &req) {
		return
	}

	handle, err := s.api.Open(r.Context(), req.KeyHandle)
	if err != nil {
		code, status := mapError(err)
		writeJSON(w, status, OpenResponse{Status: code, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, OpenResponse{KeyHandle: handle, Status: CodeOK})
}

func (s *Server) handleRegisterPeer(w http.ResponseWriter, r *http.Request) {
	var req RegisterPeerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.KeyHandle == "" {
		writeJSON(w, http.StatusBadRequest, StatusResponse{
			Status: CodeMissingParameter, Error: "missing key_handle",
		})
		return
	}

	if err := s.api.RegisterPeer(req.KeyHandle, req.RequestedLength); err != nil {
		code, status := mapError(err)
		writeJSON(w, status, StatusResponse{Status: code, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: CodeOK})
}

func (s *Server) handleConnectBlocking(w http.ResponseWriter, r *http.Request) {
	var req ConnectBlockingRequest
	if !decode(w, r, &req) {
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if err := s.api.ConnectBlocking(r.Context(), req.KeyHandle, timeout); err != nil {
		code, status := mapError(err)
		writeJSON(w, status, StatusResponse{Status: code, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: CodeOK})
}

func (s *Server) handleConnectPeer(w http.ResponseWriter, r *http.Request) {
	var req HandleRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.api.ConnectPeer(req.KeyHandle); err != nil {
		code, status := mapError(err)
		writeJSON(w, status, StatusResponse{Status: code, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: CodeOK})
}

func (s *Server) handleCheckPeerConnection(w http.ResponseWriter, r *http.Request) {
	var req HandleRequest
	if !decode(w, r, &req) {
		return
	}

	ready, err := s.api.CheckPeerConnection(req.KeyHandle)
	if err != nil {
		// An unknown handle probes as not ready; the peer keeps polling.
		writeJSON(w, http.StatusBadRequest, CheckPeerResponse{
			PeerReady: false, Status: CodeInvalidHandle,
		})
		return
	}
	writeJSON(w, http.StatusOK, CheckPeerResponse{PeerReady: ready, Status: CodeOK})
}

func (s *Server) handleExchangeBases(w http.ResponseWriter, r *http.Request) {
	var req ExchangeBasesRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Bases == "" {
		writeJSON(w, http.StatusBadRequest, StatusResponse{
			Status: CodeMissingParameter, Error: "missing or invalid bases",
		})
		return
	}

	bases, err := basis.Parse(req.Bases)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, StatusResponse{
			Status: CodeMissingParameter, Error: err.Error(),
		})
		return
	}

	if err := s.api.ExchangeBases(req.KeyHandle, bases); err != nil {
		code, status := mapError(err)
		writeJSON(w, status, StatusResponse{Status: code, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: CodeOK})
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	var req HandleRequest
	if !decode(w, r, &req) {
		return
	}

	key, err := s.api.GetKey(req.KeyHandle)
	if err != nil {
		code, status := mapError(err)
		writeJSON(w, status, GetKeyResponse{Status: code, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, GetKeyResponse{KeyBuffer: key, Status: CodeOK})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req HandleRequest
	if !decode(w, r, &req) {
		return
	}

	state, stats, err := s.api.Status(req.KeyHandle)
	if err != nil {
		code, status := mapError(err)
		writeJSON(w, status, NodeStatusResponse{Status: code, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, NodeStatusResponse{
		State: state.String(), Diagnostics: stats, Status: CodeOK,
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req HandleRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.api.Close(r.Context(), req.KeyHandle); err != nil {
		code, status := mapError(err)
		writeJSON(w, status, StatusResponse{Status: code, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: CodeOK})
}

func (s *Server) handleClosePeer(w http.ResponseWriter, r *http.Request) {
	var req HandleRequest
	if !decode(w, r, &req) {
		return
	}

	// Peer-initiated close is idempotent: success even when the handle
	// is already gone.
	s.api.ClosePeer(req.KeyHandle)
	writeJSON(w, http.StatusOK, StatusResponse{Status: CodeOK})
}
