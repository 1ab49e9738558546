package server

import (
	"path/filepath"
	"testing"

	"panther-attest/internal/agent"
)

func TestMemoryStoreRunLifecycle(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := RunMeta{
		RunID:     "run_test_1",
		Status:    "running",
		Source:    "test",
		Plan:      agent.Plan{Type: agent.PlanValidateSealAnchor},
		CreatedAt: nowRFC3339(),
		StartedAt: nowRFC3339(),
	}
	if err := store.CreateRun(meta); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	created, ok := store.GetRun(meta.RunID)
	if !ok || created.StartedAt != meta.StartedAt {
		t.Fatalf("CreateRun must persist started_at, got %+v ok=%v", created, ok)
	}
	event, err := store.AppendRunEvent(meta.RunID, 1000, "validate", "starting validation (retries=0)", nil)
	if err != nil {
		t.Fatalf("AppendRunEvent error: %v", err)
	}
	if event.Seq != 1 {
		t.Fatalf("expected first seq=1, got %d", event.Seq)
	}
	updated, err := store.UpdateRun(meta.RunID, func(item *RunMeta) {
		item.Status = "succeeded"
		item.FinishedAt = nowRFC3339()
	})
	if err != nil {
		t.Fatalf("UpdateRun error: %v", err)
	}
	if updated.Status != "succeeded" {
		t.Fatalf("expected status succeeded, got %s", updated.Status)
	}
}

func TestMemoryStoreEventCursor(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	meta := RunMeta{RunID: "run_cursor", Status: "running", CreatedAt: nowRFC3339()}
	if err := store.CreateRun(meta); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.AppendRunEvent(meta.RunID, int64(i), "validate", "attempt", nil); err != nil {
			t.Fatalf("AppendRunEvent error: %v", err)
		}
	}
	all := store.ListRunEvents(meta.RunID, 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	tail := store.ListRunEvents(meta.RunID, 2)
	if len(tail) != 1 || tail[0].Seq != 3 {
		t.Fatalf("expected only seq=3 after cursor 2, got %+v", tail)
	}
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := RunMeta{RunID: "run_snap", Status: "succeeded", CreatedAt: nowRFC3339()}
	if err := store.CreateRun(meta); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	if _, err := store.AppendRunEvent(meta.RunID, 42, "seal", "proof computed", map[string]any{"scheme": "panther-proof-v1"}); err != nil {
		t.Fatalf("AppendRunEvent error: %v", err)
	}

	reloaded, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	got, ok := reloaded.GetRun("run_snap")
	if !ok {
		t.Fatalf("run missing after reload")
	}
	if got.Status != "succeeded" {
		t.Fatalf("expected succeeded after reload, got %s", got.Status)
	}
	events := reloaded.ListRunEvents("run_snap", 0)
	if len(events) != 1 || events[0].Seq != 1 || events[0].TS != 42 {
		t.Fatalf("unexpected events after reload: %+v", events)
	}
	// appended seq continues past the reloaded max
	next, err := reloaded.AppendRunEvent("run_snap", 43, "status", "status checked", nil)
	if err != nil {
		t.Fatalf("AppendRunEvent after reload: %v", err)
	}
	if next.Seq != 2 {
		t.Fatalf("expected seq=2 after reload, got %d", next.Seq)
	}
}

func TestMemoryStoreMetricsOverview(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	anchored := true
	outcome := &agent.Outcome{Anchored: &anchored}
	_ = store.CreateRun(RunMeta{RunID: "run_a", Status: "succeeded", CreatedAt: nowRFC3339(), Outcome: outcome})
	_ = store.CreateRun(RunMeta{RunID: "run_b", Status: "failed", CreatedAt: nowRFC3339()})
	_ = store.CreateRun(RunMeta{RunID: "run_c", Status: "running", CreatedAt: nowRFC3339()})

	overview := store.GetMetricsOverview()
	if overview.TotalRuns != 3 {
		t.Fatalf("expected 3 total runs, got %d", overview.TotalRuns)
	}
	if overview.SucceededRuns != 1 || overview.FailedRuns != 1 || overview.RunningRuns != 1 {
		t.Fatalf("unexpected status counts: %+v", overview)
	}
	if overview.AnchoredRuns != 1 {
		t.Fatalf("expected 1 anchored run, got %d", overview.AnchoredRuns)
	}
}
