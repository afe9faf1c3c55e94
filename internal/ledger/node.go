// Package ledger talks to ledger nodes over their websocket command API.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"xrpl-token-sync/internal/failover"
)

// NodeConfig configures websocket behavior of a Node.
type NodeConfig struct {
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds sending the command frame.
	WriteTimeout time.Duration
	// MaxFrames bounds how many unrelated frames are skipped while waiting
	// for the response.
	MaxFrames int
}

// DefaultNodeConfig returns default node configuration.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxFrames:        64,
	}
}

// Node is a ledger node endpoint. Each call opens its own connection, sends
// one command and waits for the frame carrying the same id, so a timed-out
// or broken attempt never affects another one.
type Node struct {
	endpoint  string
	name      string
	config    NodeConfig
	dialer    websocket.Dialer
	requestID atomic.Uint64
}

var _ failover.Endpoint = (*Node)(nil)

// NewNode creates a node endpoint for a ws:// or wss:// URL.
func NewNode(endpoint string, config *NodeConfig) (*Node, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse node url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("node url %q: scheme must be ws or wss", endpoint)
	}

	cfg := DefaultNodeConfig()
	if config != nil {
		cfg = *config
	}
	return &Node{
		endpoint: endpoint,
		name:     u.Host,
		config:   cfg,
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

// Name returns the node host.
func (n *Node) Name() string { return n.name }

// RateLimited is false: nodes are not behind the shared quota.
func (n *Node) RateLimited() bool { return false }

// Call sends {"id", "command", ...params} and returns the matching result.
func (n *Node) Call(ctx context.Context, req failover.Request) (*failover.Response, error) {
	conn, _, err := n.dialer.DialContext(ctx, n.endpoint, nil)
	if err != nil {
		return nil, n.transport(fmt.Errorf("websocket dial: %w", err))
	}
	defer conn.Close()

	// Unblock reads when the attempt is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	id := n.requestID.Add(1)
	msg := make(map[string]any, len(req.Params)+2)
	for k, v := range req.Params {
		msg[k] = v
	}
	msg["id"] = id
	msg["command"] = req.Command

	conn.SetWriteDeadline(time.Now().Add(n.config.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return nil, n.transport(n.ctxErr(ctx, fmt.Errorf("write command: %w", err)))
	}

	for i := 0; i < n.config.MaxFrames; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, n.transport(n.ctxErr(ctx, fmt.Errorf("read response: %w", err)))
		}

		// Frames for other ids (subscription streams) are skipped.
		parsed := Parse(data)
		if parsed.FrameID() != id {
			continue
		}
		switch p := parsed.(type) {
		case ParsedOk:
			return &failover.Response{Payload: p.Payload}, nil
		case ParsedErr:
			return nil, &failover.MalformedError{Endpoint: n.name, Reason: p.Reason}
		}
	}
	return nil, &failover.MalformedError{Endpoint: n.name, Reason: "no response with matching id"}
}

func (n *Node) transport(err error) error {
	return &failover.TransportError{Endpoint: n.name, Err: err}
}

// ctxErr prefers the context's error once the attempt was cancelled, since
// the read error is then only a side effect of closing the connection.
func (n *Node) ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return errors.Join(cerr, err)
	}
	return err
}
