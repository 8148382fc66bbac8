package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/qkd/basis"
	"github.com/opd-ai/qkd/protocol"
	"github.com/opd-ai/qkd/session"
)

// Client calls the peer node's RPC surface. It implements
// protocol.PeerClient; deadlines come from the caller's context.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a peer client for the given base URL,
// e.g. "http://10.0.0.2:5001".
func NewClient(base string) *Client {
	return &Client{base: base, http: http.DefaultClient}
}

// post sends one JSON RPC and decodes the reply body into out. The reply
// body is decoded regardless of the HTTP status, since failure replies
// carry their wire code in the body.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", protocol.ErrPeerUnreachable, path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: malformed reply: %v", protocol.ErrPeerUnreachable, path, err)
	}
	return nil
}

// codeError converts a non-zero wire code in a peer reply into the
// matching sentinel error.
func codeError(path string, code int, msg string) error {
	switch code {
	case CodeOK:
		return nil
	case CodeInvalidHandle:
		return fmt.Errorf("%w: peer %s", session.ErrNotFound, path)
	case CodeAlreadyExists:
		return fmt.Errorf("%w: peer %s", session.ErrAlreadyExists, path)
	case CodeNotReady:
		return fmt.Errorf("%w: peer %s", protocol.ErrPeerNotReady, path)
	default:
		return fmt.Errorf("peer %s failed with status %d: %s", path, code, msg)
	}
}

// RegisterPeer implements protocol.PeerClient.
func (c *Client) RegisterPeer(ctx context.Context, handle string, requestedLength int) error {
	var resp StatusResponse
	err := c.post(ctx, "/qkd_register_peer", RegisterPeerRequest{
		KeyHandle:       handle,
		RequestedLength: requestedLength,
	}, &resp)
	if err != nil {
		return err
	}
	return codeError("/qkd_register_peer", resp.Status, resp.Error)
}

// ConnectPeer implements protocol.PeerClient.
func (c *Client) ConnectPeer(ctx context.Context, handle string) error {
	var resp StatusResponse
	if err := c.post(ctx, "/qkd_connect_peer", HandleRequest{KeyHandle: handle}, &resp); err != nil {
		return err
	}
	return codeError("/qkd_connect_peer", resp.Status, resp.Error)
}

// CheckPeerConnection implements protocol.PeerClient. An unknown handle on
// the peer probes as not ready rather than failing, so a handshake that
// started before the peer registered keeps polling.
func (c *Client) CheckPeerConnection(ctx context.Context, handle string) (bool, error) {
	var resp CheckPeerResponse
	if err := c.post(ctx, "/qkd_check_peer_connection", HandleRequest{KeyHandle: handle}, &resp); err != nil {
		return false, err
	}
	return resp.PeerReady, nil
}

// ExchangeBases implements protocol.PeerClient.
func (c *Client) ExchangeBases(ctx context.Context, handle string, bases []basis.Basis) error {
	var resp StatusResponse
	err := c.post(ctx, "/qkd_exchange_bases", ExchangeBasesRequest{
		KeyHandle: handle,
		Bases:     basis.Format(bases),
	}, &resp)
	if err != nil {
		return err
	}
	return codeError("/qkd_exchange_bases", resp.Status, resp.Error)
}

// ClosePeer implements protocol.PeerClient.
func (c *Client) ClosePeer(ctx context.Context, handle string) error {
	var resp StatusResponse
	if err := c.post(ctx, "/qkd_close_peer", HandleRequest{KeyHandle: handle}, &resp); err != nil {
		return err
	}
	if resp.Status != CodeOK {
		logrus.WithFields(logrus.Fields{
			"function":   "ClosePeer",
			"key_handle": handle,
			"status":     resp.Status,
		}).Warn("Peer close returned non-zero status")
	}
	return nil
}
