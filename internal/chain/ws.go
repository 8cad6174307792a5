package chain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gorilla/websocket"
)

// HeadsClient subscribes to newHeads over the node's websocket endpoint so
// the receipt wait can wake on each block instead of relying purely on the
// poll ticker. It is strictly an optimization: every failure degrades to
// polling.
type HeadsClient struct {
	Endpoint string
	Conn     *websocket.Conn
}

func NewHeadsClient(endpoint string) *HeadsClient {
	return &HeadsClient{Endpoint: endpoint}
}

func (c *HeadsClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *HeadsClient) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *HeadsClient) Subscribe(ctx context.Context) error {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []any{"newHeads"},
	}
	return c.Conn.WriteJSON(payload)
}

func (c *HeadsClient) Read(ctx context.Context) ([]byte, error) {
	_, msg, err := c.Conn.ReadMessage()
	return msg, err
}

// ParseHead returns the block number carried by a newHeads notification, or
// ok=false for subscription acks and unrelated frames.
func ParseHead(msg []byte) (int64, bool, error) {
	var env struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Number string `json:"number"`
			} `json:"result"`
		} `json:"params"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return 0, false, err
	}
	if env.Error != nil {
		return 0, false, errors.New(env.Error.Message)
	}
	if env.Method != "eth_subscription" || env.Params.Result.Number == "" {
		return 0, false, nil
	}
	n, err := parseHexInt64(env.Params.Result.Number)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// DefaultWSEndpoint guesses a websocket endpoint from an http RPC URL.
func DefaultWSEndpoint(rpc string) string {
	switch {
	case strings.HasPrefix(rpc, "ws://"), strings.HasPrefix(rpc, "wss://"):
		return rpc
	case strings.HasPrefix(rpc, "https://"):
		return "wss://" + strings.TrimPrefix(strings.TrimRight(rpc, "/"), "https://")
	case strings.HasPrefix(rpc, "http://"):
		return "ws://" + strings.TrimPrefix(strings.TrimRight(rpc, "/"), "http://")
	}
	return ""
}
