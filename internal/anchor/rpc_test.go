package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnchorSubmits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "proof_anchor" {
			t.Fatalf("unexpected method %s", req.Method)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("missing credential header")
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tx_hash":"0xabc"}}`))
	}))
	defer server.Close()

	client := NewRPCClient()
	receipt, err := client.Anchor(context.Background(), "deadbeef", Config{
		RPCURL:       server.URL,
		ContractAddr: "0xcontract",
		PrivKey:      "secret",
	})
	if err != nil {
		t.Fatalf("Anchor error: %v", err)
	}
	if receipt.TxHash != "0xabc" {
		t.Fatalf("unexpected tx hash %s", receipt.TxHash)
	}
}

func TestIsAnchored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"anchored":true}}`))
	}))
	defer server.Close()

	client := NewRPCClient()
	anchored, err := client.IsAnchored(context.Background(), "deadbeef", Config{RPCURL: server.URL})
	if err != nil {
		t.Fatalf("IsAnchored error: %v", err)
	}
	if !anchored {
		t.Fatalf("expected anchored=true")
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewRPCClient()
	_, err := client.Anchor(context.Background(), "deadbeef", Config{RPCURL: server.URL})
	var transientErr *TransientError
	if !errors.As(err, &transientErr) {
		t.Fatalf("expected TransientError, got %v", err)
	}
}

func TestRPCErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`))
	}))
	defer server.Close()

	client := NewRPCClient()
	_, err := client.Anchor(context.Background(), "deadbeef", Config{RPCURL: server.URL})
	if err == nil {
		t.Fatalf("expected error")
	}
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		t.Fatalf("invalid params must not be transient: %v", err)
	}
}

func TestAnchorHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tx_hash":"0xabc"}}`))
	}))
	defer server.Close()

	client := NewRPCClient()
	if _, err := client.Anchor(ctx, "deadbeef", Config{RPCURL: server.URL}); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}
