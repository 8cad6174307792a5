package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// EthClient speaks JSON-RPC 2.0 to a single Ethereum execution node.
type EthClient struct {
	baseURL string
	client  *http.Client
	nextID  atomic.Int64
}

func NewEthClient(baseURL string) *EthClient {
	return &EthClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *EthClient) BaseURL() string { return c.baseURL }

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *EthClient) call(ctx context.Context, method string, params []any, out any) error {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var env struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if env.Error != nil {
		return env.Error
	}
	if out == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

// HTTPError is a non-2xx transport response from the node.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("rpc http status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("rpc http status %d", e.Status)
}

func (c *EthClient) BlockNumber(ctx context.Context) (int64, error) {
	var hex string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &hex); err != nil {
		return 0, err
	}
	return parseHexInt64(hex)
}

// CallContract performs a read-only eth_call against the given contract.
func (c *EthClient) CallContract(ctx context.Context, to string, data []byte) ([]byte, error) {
	var hex string
	params := []any{
		map[string]string{"to": to, "data": encodeHexBytes(data)},
		"latest",
	}
	if err := c.call(ctx, "eth_call", params, &hex); err != nil {
		return nil, err
	}
	return decodeHexBytes(hex)
}

// PendingNonce returns the next nonce for addr including pending txs. It is
// fetched freshly before every submission attempt so a retry never reuses a
// nonce the network already accepted.
func (c *EthClient) PendingNonce(ctx context.Context, addr string) (uint64, error) {
	var hex string
	if err := c.call(ctx, "eth_getTransactionCount", []any{addr, "pending"}, &hex); err != nil {
		return 0, err
	}
	n, err := parseHexInt64(hex)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (c *EthClient) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	var hash string
	if err := c.call(ctx, "eth_sendRawTransaction", []any{rawTx}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// Log is one event record in a transaction receipt.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// Receipt is the confirmed result of a transaction.
type Receipt struct {
	TxHash      string
	Status      int64
	BlockNumber int64
	Logs        []Log
}

// TransactionReceipt returns nil, nil while the transaction is unmined.
func (c *EthClient) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var raw struct {
		TransactionHash string `json:"transactionHash"`
		Status          string `json:"status"`
		BlockNumber     string `json:"blockNumber"`
		Logs            []Log  `json:"logs"`
	}
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{hash}, &raw); err != nil {
		return nil, err
	}
	if raw.TransactionHash == "" {
		return nil, nil
	}
	status, err := parseHexInt64(raw.Status)
	if err != nil {
		return nil, err
	}
	block, err := parseHexInt64(raw.BlockNumber)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		TxHash:      raw.TransactionHash,
		Status:      status,
		BlockNumber: block,
		Logs:        raw.Logs,
	}, nil
}

// PaymentTx carries the transfer fields needed to verify an on-chain payment.
type PaymentTx struct {
	Hash     string
	To       string
	ValueWei *big.Int
	Mined    bool
}

func (c *EthClient) TransactionByHash(ctx context.Context, hash string) (*PaymentTx, error) {
	var raw struct {
		Hash        string `json:"hash"`
		To          string `json:"to"`
		Value       string `json:"value"`
		BlockNumber string `json:"blockNumber"`
	}
	if err := c.call(ctx, "eth_getTransactionByHash", []any{hash}, &raw); err != nil {
		return nil, err
	}
	if raw.Hash == "" {
		return nil, nil
	}
	value, err := parseHexBig(raw.Value)
	if err != nil {
		return nil, err
	}
	return &PaymentTx{
		Hash:     raw.Hash,
		To:       raw.To,
		ValueWei: value,
		Mined:    raw.BlockNumber != "" && raw.BlockNumber != "null",
	}, nil
}
