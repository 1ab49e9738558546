package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"panther-attest/internal/agent"
)

// RunManager bridges the agent registry and the persistence layer: it
// creates run records, mirrors every agent event into the store, and
// records terminal outcomes.
type RunManager struct {
	cfg      ServerConfig
	store    Store
	registry *agent.Registry
	obs      *Observability

	// createMu makes run creation atomic with respect to the event and
	// finish hooks: a run's first event must not reach the store before
	// the run row exists.
	createMu sync.RWMutex

	stageMu    sync.Mutex
	lastStage  map[string]string
	lastMoment map[string]int64
}

func NewRunManager(cfg ServerConfig, store Store, orch *agent.Orchestrator, obs *Observability) *RunManager {
	manager := &RunManager{
		cfg:        cfg,
		store:      store,
		registry:   agent.NewRegistry(orch, cfg.Agent.MaxParallelRuns),
		obs:        obs,
		lastStage:  map[string]string{},
		lastMoment: map[string]int64{},
	}
	manager.registry.SetEventHook(manager.onEvent)
	manager.registry.SetFinishHook(manager.onFinish)
	return manager
}

func (m *RunManager) Registry() *agent.Registry {
	return m.registry
}

// CreateRun starts a run in the background and persists its record.
func (m *RunManager) CreateRun(request RunRequest, source string) (RunMeta, error) {
	plan := agent.Plan{}
	if request.Plan != nil {
		plan = *request.Plan
	}
	if strings.TrimSpace(plan.Type) == "" {
		plan.Type = agent.PlanValidateSealAnchor
	}
	if strings.TrimSpace(request.Input.Prompt) == "" {
		return RunMeta{}, errors.New("input.prompt is required")
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()
	runID, err := m.registry.Start(plan, request.Input)
	if err != nil {
		return RunMeta{}, err
	}
	meta := RunMeta{
		RunID:     runID,
		Status:    string(agent.StatusRunning),
		Source:    source,
		Plan:      plan,
		Prompt:    request.Input.Prompt,
		CreatedAt: nowRFC3339(),
		StartedAt: nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, fmt.Errorf("persist run %s: %w", runID, err)
	}
	return meta, nil
}

// RunSync starts a run, waits for it to finish, and returns the stored
// record together with the full event trail.
func (m *RunManager) RunSync(ctx context.Context, request RunRequest, source string) (RunMeta, []agent.Event, error) {
	meta, err := m.CreateRun(request, source)
	if err != nil {
		return RunMeta{}, nil, err
	}
	if err := m.registry.Wait(ctx, meta.RunID); err != nil {
		return meta, nil, fmt.Errorf("wait for run %s: %w", meta.RunID, err)
	}
	events, _, _, _, pollErr := m.registry.Poll(meta.RunID, 0)
	if pollErr != nil {
		return meta, nil, pollErr
	}
	stored, ok := m.store.GetRun(meta.RunID)
	if ok {
		meta = stored
	}
	return meta, events, nil
}

func (m *RunManager) onEvent(runID string, event agent.Event) {
	m.createMu.RLock()
	defer m.createMu.RUnlock()
	if _, err := m.store.AppendRunEvent(runID, event.TS, event.Stage, event.Message, event.Data); err != nil {
		slog.Warn("append run event failed", "run_id", runID, "stage", event.Stage, "error", err)
	}
	m.trackStage(runID, event)
}

func (m *RunManager) trackStage(runID string, event agent.Event) {
	if m.obs == nil {
		return
	}
	if event.Stage == "anchor" && strings.Contains(event.Message, "failed") {
		m.obs.MarkAnchorFail(context.Background(), "attempt_failed")
	}
	m.stageMu.Lock()
	defer m.stageMu.Unlock()
	prev := m.lastStage[runID]
	if prev != "" && prev != event.Stage {
		m.obs.MarkStage(context.Background(), prev, event.TS-m.lastMoment[runID])
		m.lastMoment[runID] = event.TS
	} else if prev == "" {
		m.lastMoment[runID] = event.TS
	}
	m.lastStage[runID] = event.Stage
}

func (m *RunManager) onFinish(runID string, status agent.RunStatus, outcome *agent.Outcome, runErr error) {
	m.createMu.RLock()
	defer m.createMu.RUnlock()
	_, err := m.store.UpdateRun(runID, func(meta *RunMeta) {
		meta.Status = string(status)
		meta.FinishedAt = nowRFC3339()
		meta.Outcome = outcome
		if runErr != nil {
			meta.Error = runErr.Error()
		}
	})
	if err != nil {
		slog.Warn("persist run outcome failed", "run_id", runID, "error", err)
	}
	if m.obs != nil {
		m.obs.MarkRun(context.Background(), string(status))
	}
	m.stageMu.Lock()
	delete(m.lastStage, runID)
	delete(m.lastMoment, runID)
	m.stageMu.Unlock()
}
