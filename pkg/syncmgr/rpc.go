package syncmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kaspa-aio/controller/pkg/errdefs"
)

// DagInfo is the node's view of its chain position.
type DagInfo struct {
	BlockCount  uint64   `json:"blockCount"`
	HeaderCount uint64   `json:"headerCount"`
	IsSynced    bool     `json:"isSynced"`
	NetworkName string   `json:"networkName,omitempty"`
	TipHashes   []string `json:"tipHashes,omitempty"`
	Difficulty  float64  `json:"difficulty,omitempty"`
}

// NodeClient queries a blockchain node for its sync position.
type NodeClient interface {
	BlockDagInfo(ctx context.Context) (DagInfo, error)
}

const defaultQueryMethod = "getBlockDagInfo"

// RPCClient is a JSON-RPC NodeClient over HTTP. Calls go through a circuit
// breaker so a wedged node degrades to fast failures instead of piling up
// blocked probes.
type RPCClient struct {
	url     string
	method  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewRPCClient creates a client for the node's JSON-RPC endpoint.
func NewRPCClient(host string, port int) *RPCClient {
	return &RPCClient{
		url:    fmt.Sprintf("http://%s:%d", host, port),
		method: defaultQueryMethod,
		client: &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "node-rpc",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// WithMethod overrides the query method.
func (c *RPCClient) WithMethod(method string) *RPCClient {
	c.method = method
	return c
}

// WithTimeout overrides the per-call HTTP timeout.
func (c *RPCClient) WithTimeout(timeout time.Duration) *RPCClient {
	c.client.Timeout = timeout
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Retry schedule for transient failures.
const (
	retryAttempts    = 3
	retryBaseBackoff = time.Second
	retryMaxBackoff  = 10 * time.Second
)

// BlockDagInfo queries the node's chain position. Transient failures are
// retried with doubling backoff inside one breaker execution, so the breaker
// counts the whole attempt sequence as a single failure.
func (c *RPCClient) BlockDagInfo(ctx context.Context) (DagInfo, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return retryTransient(ctx, retryAttempts, retryBaseBackoff, retryMaxBackoff,
			func() (DagInfo, error) { return c.call(ctx) })
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return DagInfo{}, errdefs.Wrap(err, errdefs.KindRPCError, "node rpc circuit open")
		}
		return DagInfo{}, err
	}
	return out.(DagInfo), nil
}

// retryTransient runs fn up to attempts times, sleeping between attempts with
// doubling backoff capped at maxBackoff. Non-transient errors and context
// cancellation end the sequence immediately.
func retryTransient[T any](ctx context.Context, attempts int, backoff, maxBackoff time.Duration, fn func() (T, error)) (T, error) {
	var out T
	var err error
	for attempt := 1; ; attempt++ {
		out, err = fn()
		if err == nil || attempt >= attempts || !errdefs.IsTransient(err) {
			return out, err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return out, err
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RPCClient) call(ctx context.Context) (DagInfo, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		Method:  c.method,
		Params:  []any{},
		ID:      1,
	})
	if err != nil {
		return DagInfo{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return DagInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return DagInfo{}, errdefs.Wrap(err, errdefs.KindRPCTimeout, "node rpc timed out")
		}
		// Transport failures (refused, reset, DNS) are transient; the node
		// may simply still be coming up.
		return DagInfo{}, errdefs.Wrap(err, errdefs.KindRPCRefused, "node rpc unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DagInfo{}, errdefs.New(errdefs.KindRPCError, "node rpc returned status %d", resp.StatusCode)
	}

	var body rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return DagInfo{}, errdefs.Wrap(err, errdefs.KindRPCError, "node rpc response malformed")
	}
	if body.Error != nil {
		return DagInfo{}, errdefs.New(errdefs.KindRPCError, "node rpc error %d: %s", body.Error.Code, body.Error.Message)
	}

	var info DagInfo
	if err := json.Unmarshal(body.Result, &info); err != nil {
		return DagInfo{}, errdefs.Wrap(err, errdefs.KindRPCError, "node rpc result malformed")
	}
	return info, nil
}
