package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// JSONRPCChecker probes a JSON-RPC endpoint by sending a configured no-arg
// method and expecting a non-error response.
type JSONRPCChecker struct {
	// URL is the JSON-RPC endpoint (e.g., "http://localhost:16110")
	URL string

	// Method is the no-arg query method to invoke (e.g., "getInfo")
	Method string

	// Client is the HTTP client to use
	Client *http.Client
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewJSONRPCChecker creates a new JSON-RPC health checker
func NewJSONRPCChecker(url, method string) *JSONRPCChecker {
	return &JSONRPCChecker{
		URL:    url,
		Method: method,
		Client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Check performs the JSON-RPC health check
func (j *JSONRPCChecker) Check(ctx context.Context) Result {
	start := time.Now()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		Method:  j.Method,
		Params:  []any{},
		ID:      1,
	})
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to encode request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.URL, bytes.NewReader(body))
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.Client.Do(req)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("invalid JSON-RPC response: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	if parsed.Error != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("RPC error %d: %s", parsed.Error.Code, parsed.Error.Message),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s responded", j.Method),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (j *JSONRPCChecker) Type() CheckType {
	return CheckTypeJSONRPC
}

// WithTimeout sets the HTTP client timeout
func (j *JSONRPCChecker) WithTimeout(timeout time.Duration) *JSONRPCChecker {
	j.Client.Timeout = timeout
	return j
}
