package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildSkipsUnknownAndIncomplete(t *testing.T) {
	named := Build([]Config{
		{Type: "openai", Model: "gpt-4o-mini"}, // missing api key
		{Type: "ollama", BaseURL: "http://localhost:11434", Model: "llama3"},
		{Type: "carrier-pigeon"},
		{Type: "echo"},
	})
	if len(named) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(named))
	}
	if named[0].Label != "ollama:llama3" {
		t.Fatalf("unexpected label %s", named[0].Label)
	}
	if named[1].Label != "echo" {
		t.Fatalf("unexpected label %s", named[1].Label)
	}
}

func TestEchoProvider(t *testing.T) {
	out, err := EchoProvider{}.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("echo generate error: %v", err)
	}
	if out.Text != "echo: hi" {
		t.Fatalf("unexpected echo text %q", out.Text)
	}
}

func TestOllamaGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"insulin regulates glucose"}`))
	}))
	defer server.Close()

	p := NewOllama(Config{Type: "ollama", BaseURL: server.URL, Model: "llama3"})
	out, err := p.Generate(context.Background(), "explain diabetes")
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}
	if out.Text != "insulin regulates glucose" {
		t.Fatalf("unexpected text %q", out.Text)
	}
}

func TestOllamaGenerateErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer server.Close()

	p := NewOllama(Config{Type: "ollama", BaseURL: server.URL, Model: "llama3"})
	_, err := p.Generate(context.Background(), "explain diabetes")
	if err == nil {
		t.Fatalf("expected error from 500 response")
	}
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("expected server message in error, got %v", err)
	}
}

func TestOllamaGenerateHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"late"}`))
	}))
	defer server.Close()

	p := NewOllama(Config{Type: "ollama", BaseURL: server.URL, Model: "llama3"})
	if _, err := p.Generate(ctx, "hello"); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}
