package server

import (
	"context"
	"testing"
	"time"

	"panther-attest/internal/agent"
	"panther-attest/internal/anchor"
	"panther-attest/internal/provider"
)

type stubAnchorer struct{}

func (stubAnchorer) Anchor(ctx context.Context, hashHex string, cfg anchor.Config) (anchor.Receipt, error) {
	return anchor.Receipt{TxHash: "0xstub"}, nil
}

func (stubAnchorer) IsAnchored(ctx context.Context, hashHex string, cfg anchor.Config) (bool, error) {
	return true, nil
}

func newTestManager(t *testing.T) (*RunManager, Store) {
	t.Helper()
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	orch := agent.NewOrchestrator(stubAnchorer{})
	cfg := DefaultServerConfig()
	return NewRunManager(cfg, store, orch, nil), store
}

func echoRequest() RunRequest {
	return RunRequest{
		Input: agent.Input{
			Prompt:    "diabetes management with insulin and glucose monitoring via hba1c, pancreas function",
			Providers: []provider.Config{{Type: "echo"}},
		},
	}
}

func TestRunSyncPersistsOutcomeAndEvents(t *testing.T) {
	manager, store := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meta, events, err := manager.RunSync(ctx, echoRequest(), "test.sync")
	if err != nil {
		t.Fatalf("RunSync error: %v", err)
	}
	if meta.Status != string(agent.StatusSucceeded) {
		t.Fatalf("expected succeeded, got %s (error=%s)", meta.Status, meta.Error)
	}
	if meta.Outcome == nil || meta.Outcome.Proof == nil {
		t.Fatalf("expected persisted outcome with proof, got %+v", meta.Outcome)
	}
	if meta.StartedAt == "" {
		t.Fatalf("expected started_at on persisted run")
	}
	if len(events) == 0 {
		t.Fatalf("expected events from sync run")
	}

	stored := store.ListRunEvents(meta.RunID, 0)
	if len(stored) != len(events) {
		t.Fatalf("store mirrored %d events, registry has %d", len(stored), len(events))
	}
	for i, event := range stored {
		if event.Seq != int64(i+1) {
			t.Fatalf("expected contiguous seq starting at 1, got %d at index %d", event.Seq, i)
		}
		if event.Stage != events[i].Stage || event.Message != events[i].Message {
			t.Fatalf("mirrored event %d diverges: %+v vs %+v", i, event, events[i])
		}
	}
}

func TestCreateRunRequiresPrompt(t *testing.T) {
	manager, _ := newTestManager(t)
	_, err := manager.CreateRun(RunRequest{Input: agent.Input{Providers: []provider.Config{{Type: "echo"}}}}, "test")
	if err == nil {
		t.Fatalf("expected error for missing prompt")
	}
}

func TestRunWithoutProvidersFailsAsConfigError(t *testing.T) {
	manager, store := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request := RunRequest{Input: agent.Input{Prompt: "anything"}}
	meta, _, err := manager.RunSync(ctx, request, "test.sync")
	if err != nil {
		t.Fatalf("RunSync transport error: %v", err)
	}
	if meta.Status != string(agent.StatusFailed) {
		t.Fatalf("expected failed run, got %s", meta.Status)
	}
	if meta.Error == "" {
		t.Fatalf("expected persisted run error")
	}
	stored, ok := store.GetRun(meta.RunID)
	if !ok || stored.FinishedAt == "" {
		t.Fatalf("expected finished run record, got %+v ok=%v", stored, ok)
	}
}

func TestAsyncRunReachesStore(t *testing.T) {
	manager, store := newTestManager(t)
	meta, err := manager.CreateRun(echoRequest(), "test.async")
	if err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Registry().Wait(ctx, meta.RunID); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	stored, ok := store.GetRun(meta.RunID)
	if !ok {
		t.Fatalf("run record missing")
	}
	if stored.Status != string(agent.StatusSucceeded) || stored.FinishedAt == "" {
		t.Fatalf("expected finished succeeded run, got %+v", stored)
	}
}
