// Package controlclient is a thin WebSocket client for the daemon's control
// channel (§4.9), used by CLI subcommands that need to talk to an already
// running daemon rather than host it.
package controlclient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/folder-mcp/folder-mcp-daemon/internal/config"
)

// RequestTimeout mirrors the server's own per-request deadline (§4.9).
const RequestTimeout = 5 * time.Second

// Client is a single short-lived connection to the daemon's control channel.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to the daemon's control channel on the configured port.
func Dial() (*Client, error) {
	rt, err := config.LoadRuntime()
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("ws://127.0.0.1:%d/", rt.ControlChannelPort)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon control channel: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one request and waits for its matching response or an error
// envelope, discarding any fmdm.update pushes received in between.
func (c *Client) Call(reqType string, payload any) (map[string]any, error) {
	id := uuid.NewString()
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}
	req := map[string]any{"id": id, "type": reqType, "payload": json.RawMessage(body)}
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	deadline := time.Now().Add(RequestTimeout)
	for time.Now().Before(deadline) {
		c.conn.SetReadDeadline(deadline)
		var msg map[string]any
		if err := c.conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if msg["type"] == "fmdm.update" {
			continue
		}
		if msg["id"] != id {
			continue
		}
		if msg["type"] == "error" {
			return nil, fmt.Errorf("daemon error: %v", msg["error"])
		}
		return msg, nil
	}
	return nil, fmt.Errorf("timed out waiting for response to %q", reqType)
}
