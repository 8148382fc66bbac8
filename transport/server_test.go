package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/qkd"
	"github.com/opd-ai/qkd/basis"
	"github.com/opd-ai/qkd/protocol"
	"github.com/opd-ai/qkd/session"
	"github.com/opd-ai/qkd/transceiver"
)

// nullPeer satisfies protocol.PeerClient for single-node handler tests.
type nullPeer struct{}

func (nullPeer) RegisterPeer(context.Context, string, int) error { return nil }
func (nullPeer) ConnectPeer(context.Context, string) error       { return nil }
func (nullPeer) CheckPeerConnection(context.Context, string) (bool, error) {
	return false, nil
}
func (nullPeer) ExchangeBases(context.Context, string, []basis.Basis) error { return nil }
func (nullPeer) ClosePeer(context.Context, string) error                    { return nil }

// deferredClient delegates to a peer client installed after both test
// servers exist, breaking the URL chicken-and-egg between two nodes.
type deferredClient struct {
	mu     sync.Mutex
	target protocol.PeerClient
}

func (d *deferredClient) set(c protocol.PeerClient) {
	d.mu.Lock()
	d.target = c
	d.mu.Unlock()
}

func (d *deferredClient) get() protocol.PeerClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

func (d *deferredClient) RegisterPeer(ctx context.Context, handle string, n int) error {
	return d.get().RegisterPeer(ctx, handle, n)
}
func (d *deferredClient) ConnectPeer(ctx context.Context, handle string) error {
	return d.get().ConnectPeer(ctx, handle)
}
func (d *deferredClient) CheckPeerConnection(ctx context.Context, handle string) (bool, error) {
	return d.get().CheckPeerConnection(ctx, handle)
}
func (d *deferredClient) ExchangeBases(ctx context.Context, handle string, b []basis.Basis) error {
	return d.get().ExchangeBases(ctx, handle, b)
}
func (d *deferredClient) ClosePeer(ctx context.Context, handle string) error {
	return d.get().ClosePeer(ctx, handle)
}

func newTestNode(t *testing.T, peer protocol.PeerClient, trx transceiver.Transceiver) *qkd.Node {
	t.Helper()
	opts := qkd.NewOptions()
	opts.PeerClient = peer
	opts.Transceiver = trx
	opts.KeyLength = 8
	opts.PollInterval = 10 * time.Millisecond
	node, err := qkd.New(opts)
	require.NoError(t, err)
	return node
}

func serve(t *testing.T, node *qkd.Node) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(node).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// postJSON posts one RPC and decodes the reply, returning the HTTP status.
func postJSON(t *testing.T, base, path string, body, out any) int {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(base+path, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestTwoNodeKeyEstablishment(t *testing.T) {
	wr, rd := transceiver.NewLoopbackPair()
	dcA := &deferredClient{}
	dcB := &deferredClient{}
	nodeA := newTestNode(t, dcA, wr)
	nodeB := newTestNode(t, dcB, rd)
	srvA := serve(t, nodeA)
	srvB := serve(t, nodeB)
	dcA.set(NewClient(srvB.URL))
	dcB.set(NewClient(srvA.URL))

	// Open on A registers the handle on B as responder.
	var open OpenResponse
	code := postJSON(t, srvA.URL, "/qkd_open", OpenRequest{}, &open)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, CodeOK, open.Status)
	require.NotEmpty(t, open.KeyHandle)
	handle := open.KeyHandle

	// Both sides connect concurrently; the handshake needs both in flight.
	type result struct {
		resp StatusResponse
		err  error
	}
	connect := func(base string, ch chan<- result) {
		buf, _ := json.Marshal(ConnectBlockingRequest{KeyHandle: handle, TimeoutMs: 5000})
		resp, err := http.Post(base+"/qkd_connect_blocking", "application/json", bytes.NewReader(buf))
		if err != nil {
			ch <- result{err: err}
			return
		}
		defer resp.Body.Close()
		var r result
		r.err = json.NewDecoder(resp.Body).Decode(&r.resp)
		ch <- r
	}
	chA := make(chan result, 1)
	chB := make(chan result, 1)
	go connect(srvA.URL, chA)
	go connect(srvB.URL, chB)
	for _, ch := range []chan result{chA, chB} {
		r := <-ch
		require.NoError(t, r.err)
		require.Equal(t, CodeOK, r.resp.Status, r.resp.Error)
	}

	// Poll both nodes until the key is ready.
	getKey := func(base string) (GetKeyResponse, int) {
		var resp GetKeyResponse
		code := postJSON(t, base, "/qkd_get_key", HandleRequest{KeyHandle: handle}, &resp)
		return resp, code
	}
	var keyA, keyB GetKeyResponse
	require.Eventually(t, func() bool {
		keyA, _ = getKey(srvA.URL)
		keyB, _ = getKey(srvB.URL)
		return keyA.Status == CodeOK && keyB.Status == CodeOK
	}, 5*time.Second, 20*time.Millisecond)

	assert.NotEmpty(t, keyA.KeyBuffer)
	assert.Equal(t, keyA.KeyBuffer, keyB.KeyBuffer, "both nodes must hold the same key")

	var st NodeStatusResponse
	code = postJSON(t, srvA.URL, "/qkd_status", HandleRequest{KeyHandle: handle}, &st)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", st.State)
	assert.Equal(t, 8*protocol.DefaultRawMultiplier, st.Diagnostics.Compared)
	assert.Positive(t, st.Diagnostics.KeyBits)

	// Close on A tears down both sides.
	var closed StatusResponse
	code = postJSON(t, srvA.URL, "/qkd_close", HandleRequest{KeyHandle: handle}, &closed)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, CodeOK, closed.Status)

	gone, code := getKey(srvA.URL)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeInvalidHandle, gone.Status)
	gone, code = getKey(srvB.URL)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeInvalidHandle, gone.Status)

	// A second explicit close reports the unknown handle.
	code = postJSON(t, srvA.URL, "/qkd_close", HandleRequest{KeyHandle: handle}, &closed)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeInvalidHandle, closed.Status)

	// Peer-initiated close stays idempotent.
	code = postJSON(t, srvA.URL, "/qkd_close_peer", HandleRequest{KeyHandle: handle}, &closed)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, CodeOK, closed.Status)
}

func TestRegisterPeerValidation(t *testing.T) {
	srv := serve(t, newTestNode(t, nullPeer{}, nil))

	var resp StatusResponse
	code := postJSON(t, srv.URL, "/qkd_register_peer", RegisterPeerRequest{KeyHandle: "dup", RequestedLength: 8}, &resp)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, CodeOK, resp.Status)

	code = postJSON(t, srv.URL, "/qkd_register_peer", RegisterPeerRequest{KeyHandle: "dup"}, &resp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeAlreadyExists, resp.Status)

	code = postJSON(t, srv.URL, "/qkd_register_peer", RegisterPeerRequest{}, &resp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeMissingParameter, resp.Status)
}

func TestOpenDuplicateHandle(t *testing.T) {
	srv := serve(t, newTestNode(t, nullPeer{}, nil))

	var resp OpenResponse
	code := postJSON(t, srv.URL, "/qkd_open", OpenRequest{KeyHandle: "mine"}, &resp)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "mine", resp.KeyHandle)

	code = postJSON(t, srv.URL, "/qkd_open", OpenRequest{KeyHandle: "mine"}, &resp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeAlreadyExists, resp.Status)
}

func TestExchangeBasesValidation(t *testing.T) {
	node := newTestNode(t, nullPeer{}, nil)
	srv := serve(t, node)
	require.NoError(t, node.RegisterPeer("sess", 8))

	var resp StatusResponse
	code := postJSON(t, srv.URL, "/qkd_exchange_bases", ExchangeBasesRequest{KeyHandle: "sess"}, &resp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeMissingParameter, resp.Status)

	code = postJSON(t, srv.URL, "/qkd_exchange_bases", ExchangeBasesRequest{KeyHandle: "sess", Bases: "+Q"}, &resp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeMissingParameter, resp.Status)

	code = postJSON(t, srv.URL, "/qkd_exchange_bases", ExchangeBasesRequest{KeyHandle: "ghost", Bases: "+X"}, &resp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeInvalidHandle, resp.Status)

	code = postJSON(t, srv.URL, "/qkd_exchange_bases", ExchangeBasesRequest{KeyHandle: "sess", Bases: "+X"}, &resp)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, CodeOK, resp.Status)
}

func TestCheckPeerConnectionUnknownHandle(t *testing.T) {
	srv := serve(t, newTestNode(t, nullPeer{}, nil))

	var resp CheckPeerResponse
	code := postJSON(t, srv.URL, "/qkd_check_peer_connection", HandleRequest{KeyHandle: "ghost"}, &resp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.PeerReady)
	assert.Equal(t, CodeInvalidHandle, resp.Status)
}

func TestGetKeyWhileRunningAndAfterFailure(t *testing.T) {
	node := newTestNode(t, nullPeer{}, nil)
	srv := serve(t, node)
	require.NoError(t, node.RegisterPeer("pending", 8))

	var resp GetKeyResponse
	code := postJSON(t, srv.URL, "/qkd_get_key", HandleRequest{KeyHandle: "pending"}, &resp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeKeyNotReady, resp.Status)
	assert.Contains(t, resp.Error, "idle")

	sess, err := node.Store().Get("pending")
	require.NoError(t, err)
	sess.Fail("sensor detached")

	code = postJSON(t, srv.URL, "/qkd_get_key", HandleRequest{KeyHandle: "pending"}, &resp)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, CodeKeyFailed, resp.Status)
	assert.Contains(t, resp.Error, "sensor detached")
}

func TestConnectPeerBeforeLocalConnect(t *testing.T) {
	node := newTestNode(t, nullPeer{}, nil)
	srv := serve(t, node)
	require.NoError(t, node.RegisterPeer("early", 8))

	var resp StatusResponse
	code := postJSON(t, srv.URL, "/qkd_connect_peer", HandleRequest{KeyHandle: "early"}, &resp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeNotReady, resp.Status)
}

func TestStatusEndpoint(t *testing.T) {
	node := newTestNode(t, nullPeer{}, nil)
	srv := serve(t, node)
	require.NoError(t, node.RegisterPeer("fresh", 8))

	var resp NodeStatusResponse
	code := postJSON(t, srv.URL, "/qkd_status", HandleRequest{KeyHandle: "fresh"}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", resp.State)
	assert.Equal(t, CodeOK, resp.Status)

	code = postJSON(t, srv.URL, "/qkd_status", HandleRequest{KeyHandle: "ghost"}, &resp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeInvalidHandle, resp.Status)
}

func TestRequestDecoding(t *testing.T) {
	srv := serve(t, newTestNode(t, nullPeer{}, nil))

	resp, err := http.Get(srv.URL + "/qkd_status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	var body StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, CodeMissingParameter, body.Status)

	resp2, err := http.Post(srv.URL+"/qkd_open", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	assert.Equal(t, CodeMissingParameter, body.Status)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     int
		httpCode int
	}{
		{"nil", nil, CodeOK, http.StatusOK},
		{"unknown handle", session.ErrNotFound, CodeInvalidHandle, http.StatusBadRequest},
		{"duplicate", session.ErrAlreadyExists, CodeAlreadyExists, http.StatusBadRequest},
		{"not ready", session.ErrNotReady, CodeNotReady, http.StatusBadRequest},
		{"busy", session.ErrBusy, CodeNotReady, http.StatusBadRequest},
		{"bad basis", basis.ErrInvalidBasis, CodeMissingParameter, http.StatusBadRequest},
		{"handshake timeout", protocol.ErrHandshakeTimeout, CodePeerFailure, http.StatusBadRequest},
		{"registration", qkd.ErrPeerRegistrationFailed, CodePeerFailure, http.StatusInternalServerError},
		{"key pending", qkd.ErrKeyNotReady, CodeKeyNotReady, http.StatusBadRequest},
		{"key failed", qkd.ErrKeyFailed, CodeKeyFailed, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, httpCode := mapError(tc.err)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.httpCode, httpCode)
		})
	}
}
