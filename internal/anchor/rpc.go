package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RPCClient anchors proof hashes through a JSON-RPC 2.0 proof-registry node.
// The node signs with the submitted credential; this client only cares about
// the success/failure/timeout contract.
type RPCClient struct {
	client *http.Client
}

func NewRPCClient() *RPCClient {
	return &RPCClient{
		client: &http.Client{Timeout: 60 * time.Second},
	}
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

func (c *RPCClient) Anchor(ctx context.Context, hashHex string, cfg Config) (Receipt, error) {
	var result struct {
		TxHash string `json:"tx_hash"`
	}
	err := c.call(ctx, cfg, "proof_anchor", []any{cfg.ContractAddr, hashHex}, &result)
	if err != nil {
		return Receipt{}, err
	}
	if strings.TrimSpace(result.TxHash) == "" {
		return Receipt{}, fmt.Errorf("anchor response missing tx_hash")
	}
	return Receipt{TxHash: result.TxHash}, nil
}

func (c *RPCClient) IsAnchored(ctx context.Context, hashHex string, cfg Config) (bool, error) {
	var result struct {
		Anchored bool `json:"anchored"`
	}
	if err := c.call(ctx, cfg, "proof_isAnchored", []any{cfg.ContractAddr, hashHex}, &result); err != nil {
		return false, err
	}
	return result.Anchored, nil
}

func (c *RPCClient) call(ctx context.Context, cfg Config, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.RPCURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.PrivKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.PrivKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return transient(fmt.Errorf("%s: %w", method, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return transient(fmt.Errorf("read %s response: %w", method, err))
	}
	if resp.StatusCode >= 500 {
		return transient(fmt.Errorf("%s: node returned %d", method, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: node returned %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed rpcResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if parsed.Error != nil {
		// Server-defined -32000..-32099 codes cover node-side conditions
		// like congestion, which clear on retry.
		if parsed.Error.Code <= -32000 && parsed.Error.Code >= -32099 {
			return transient(fmt.Errorf("%s: rpc error %d: %s", method, parsed.Error.Code, parsed.Error.Message))
		}
		return fmt.Errorf("%s: rpc error %d: %s", method, parsed.Error.Code, parsed.Error.Message)
	}
	if err := json.Unmarshal(parsed.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
