package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"panther-attest/internal/provider"
)

func testRegistry(t *testing.T, providers map[string]provider.Provider) *Registry {
	t.Helper()
	orch := NewOrchestrator(&fakeAnchorer{}).WithProviderFactory(factoryFor(providers))
	return NewRegistry(orch, 2)
}

func TestRegistryLifecycle(t *testing.T) {
	reg := testRegistry(t, map[string]provider.Provider{
		"p": scriptedProvider{text: "glucose insulin"},
	})
	runID, err := reg.Start(glucosePlan(), Input{Prompt: "explain"})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if runID == "" {
		t.Fatalf("expected run id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reg.Wait(ctx, runID); err != nil {
		t.Fatalf("Wait error: %v", err)
	}

	status, done, err := reg.Status(runID)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if !done || status != StatusSucceeded {
		t.Fatalf("expected terminal success, got %s done=%v", status, done)
	}

	outcome, err := reg.Result(runID)
	if err != nil {
		t.Fatalf("Result error: %v", err)
	}
	if outcome == nil || outcome.Proof == nil {
		t.Fatalf("expected outcome with proof")
	}

	if err := reg.Evict(runID); err != nil {
		t.Fatalf("Evict error: %v", err)
	}
	if _, _, err := reg.Status(runID); err == nil {
		t.Fatalf("expected run not found after evict")
	}
}

func TestRegistryPollCursorIsIncremental(t *testing.T) {
	reg := testRegistry(t, map[string]provider.Provider{
		"p": scriptedProvider{text: "glucose insulin"},
	})
	runID, err := reg.Start(glucosePlan(), Input{Prompt: "explain"})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	var collected []Event
	cursor := 0
	deadline := time.Now().Add(5 * time.Second)
	for {
		events, done, next, _, err := reg.Poll(runID, cursor)
		if err != nil {
			t.Fatalf("Poll error: %v", err)
		}
		if next < cursor {
			t.Fatalf("cursor went backwards: %d -> %d", cursor, next)
		}
		collected = append(collected, events...)
		cursor = next
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// incremental polling rebuilt the full trail without duplicates
	full, _, _, _, err := reg.Poll(runID, 0)
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	if len(full) != len(collected) {
		t.Fatalf("incremental trail has %d events, full trail %d", len(collected), len(full))
	}

	// replaying the trail reconstructs the stored outcome
	outcome, err := reg.Result(runID)
	if err != nil {
		t.Fatalf("Result error: %v", err)
	}
	replayed := OutcomeFromEvents(collected)
	got, _ := json.Marshal(replayed)
	want, _ := json.Marshal(outcome)
	if string(got) != string(want) {
		t.Fatalf("replayed outcome differs:\n%s\n%s", got, want)
	}
}

func TestRegistryFailedRunKeepsTrailAndError(t *testing.T) {
	reg := testRegistry(t, nil) // no providers -> config error
	runID, err := reg.Start(glucosePlan(), Input{Prompt: "explain"})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reg.Wait(ctx, runID); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	status, done, err := reg.Status(runID)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if !done || status != StatusFailed {
		t.Fatalf("expected terminal failure, got %s", status)
	}
	if _, err := reg.Result(runID); err == nil {
		t.Fatalf("expected run error from Result")
	}
	events, _, _, _, err := reg.Poll(runID, 0)
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	foundFailure := false
	for _, e := range events {
		if e.Stage == "run" && e.Message == "run failed" {
			foundFailure = true
		}
	}
	if !foundFailure {
		t.Fatalf("expected terminal failure event")
	}
}

func TestRegistryResultNilWhileRunning(t *testing.T) {
	reg := testRegistry(t, map[string]provider.Provider{
		"slow": scriptedProvider{text: "glucose insulin", delay: 300 * time.Millisecond},
	})
	runID, err := reg.Start(glucosePlan(), Input{Prompt: "explain"})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	outcome, err := reg.Result(runID)
	if err != nil {
		t.Fatalf("Result error while running: %v", err)
	}
	if outcome != nil {
		t.Fatalf("expected nil outcome while running")
	}
	if err := reg.Evict(runID); err == nil {
		t.Fatalf("expected refusal to evict a live run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = reg.Wait(ctx, runID)
}

func TestRegistryUnknownRun(t *testing.T) {
	reg := testRegistry(t, nil)
	if _, _, err := reg.Status("run_missing"); err == nil {
		t.Fatalf("expected error for unknown run")
	}
	if _, _, _, _, err := reg.Poll("run_missing", 0); err == nil {
		t.Fatalf("expected error for unknown run")
	}
}
