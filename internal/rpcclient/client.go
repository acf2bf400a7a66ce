// Package rpcclient calls a Klingnet node over JSON-RPC 2.0.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	klog "github.com/Klingon-tech/klingnet-faucet/internal/log"
)

// DefaultTimeout bounds a single HTTP round trip to the node.
const DefaultTimeout = 10 * time.Second

// maxResponseSize caps a node answer. UTXO listings of a busy pool
// address are the largest responses.
const maxResponseSize = 16 << 20

// ErrUnreachable wraps every failure to get a well-formed answer from the
// node. A *NodeError means the node answered and refused.
var ErrUnreachable = errors.New("node unreachable")

// NodeError is an error object returned by the node.
type NodeError struct {
	Method  string
	Code    int
	Message string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: node error %d: %s", e.Method, e.Code, e.Message)
}

// Client is a JSON-RPC 2.0 client bound to one node.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

// New creates a client for endpoint with DefaultTimeout.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, DefaultTimeout)
}

// NewWithTimeout creates a client whose round trips are bounded by timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the node URL the client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Call invokes method and decodes the result into result, which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	id := c.nextID.Add(1)
	body, err := json.Marshal(envelope{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%s: encode params: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return fmt.Errorf("%w: %s: read: %w", ErrUnreachable, method, err)
	}
	if len(data) > maxResponseSize {
		return fmt.Errorf("%w: %s: response over %d bytes", ErrUnreachable, method, maxResponseSize)
	}
	klog.Ledger.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("RPC call")

	var out envelope
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("%w: %s: http %d: undecodable answer: %w", ErrUnreachable, method, resp.StatusCode, err)
	}
	if out.Error != nil {
		return &NodeError{Method: method, Code: out.Error.Code, Message: out.Error.Message}
	}
	if out.ID != id {
		return fmt.Errorf("%w: %s: answer id %d, sent %d", ErrUnreachable, method, out.ID, id)
	}

	if result != nil && out.Result != nil {
		if err := json.Unmarshal(out.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}
