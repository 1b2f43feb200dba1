// Package chain is the ledger and value-transfer client: a minimal Ethereum
// JSON-RPC client, a secp256k1 signer, and bindings for the fixed method
// surface of the task contract. Each call is attempted exactly once; the HTTP
// client timeout is the only cancellation beyond the caller's context.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client is a stateless JSON-RPC connection wrapper and may be shared freely
// across pipeline executions.
type Client struct {
	rpcURL string
	client *http.Client
	nextID atomic.Uint64
}

func NewClient(rpcURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		rpcURL: strings.TrimSpace(rpcURL),
		client: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Call performs one JSON-RPC request and decodes the result into out.
func (c *Client) Call(ctx context.Context, out any, method string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("rpc http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(decoded.Result, out)
}

func (c *Client) callHexBig(ctx context.Context, method string, params ...any) (*big.Int, error) {
	var raw string
	if err := c.Call(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return parseHexBig(raw)
}

// ChainID returns the chain identifier used for replay-protected signing.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.callHexBig(ctx, "eth_chainId")
}

// NonceAt returns the pending-state transaction count for an address.
func (c *Client) NonceAt(ctx context.Context, address string) (uint64, error) {
	v, err := c.callHexBig(ctx, "eth_getTransactionCount", address, "pending")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// GasPrice returns the current suggested gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.callHexBig(ctx, "eth_gasPrice")
}

// BalanceAt returns the latest balance of an address in wei.
func (c *Client) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	return c.callHexBig(ctx, "eth_getBalance", address, "latest")
}

// callMsg is the eth_call / eth_estimateGas parameter object.
type callMsg struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Data  string `json:"data,omitempty"`
	Value string `json:"value,omitempty"`
}

// CallContract executes a read-only contract call and returns the raw
// hex-encoded return data.
func (c *Client) CallContract(ctx context.Context, to string, data []byte) (string, error) {
	var out string
	msg := callMsg{To: to, Data: "0x" + hex.EncodeToString(data)}
	if err := c.Call(ctx, &out, "eth_call", msg, "latest"); err != nil {
		return "", err
	}
	return out, nil
}

// EstimateGas estimates gas for a transaction. The node simulates the call,
// so a revert surfaces here before anything is signed or broadcast.
func (c *Client) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	msg := callMsg{From: from, To: to}
	if len(data) > 0 {
		msg.Data = "0x" + hex.EncodeToString(data)
	}
	if value != nil && value.Sign() > 0 {
		msg.Value = "0x" + value.Text(16)
	}
	v, err := c.callHexBig(ctx, "eth_estimateGas", msg)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// SendRawTransaction broadcasts a signed transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx []byte) (string, error) {
	var hash string
	if err := c.Call(ctx, &hash, "eth_sendRawTransaction", "0x"+hex.EncodeToString(rawTx)); err != nil {
		return "", err
	}
	return hash, nil
}

func parseHexBig(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return v, nil
}
