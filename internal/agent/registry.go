package agent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

type run struct {
	id      string
	log     *EventLog
	done    chan struct{}
	mu      sync.Mutex
	status  RunStatus
	outcome *Outcome
	err     error
}

// Registry owns run state for the asynchronous job API. Callers interact
// only via run ids; each run's event log and outcome belong to the registry.
// A weighted semaphore bounds how many runs execute at once; queued runs
// hold their slot request until one frees up.
type Registry struct {
	mu      sync.RWMutex
	runs    map[string]*run
	orch    *Orchestrator
	sem     *semaphore.Weighted
	onEvent func(runID string, event Event)
	onDone  func(runID string, status RunStatus, outcome *Outcome, err error)
}

func NewRegistry(orch *Orchestrator, maxParallel int64) *Registry {
	if maxParallel <= 0 {
		maxParallel = 2
	}
	return &Registry{
		runs: map[string]*run{},
		orch: orch,
		sem:  semaphore.NewWeighted(maxParallel),
	}
}

// SetEventHook mirrors every appended event, e.g. into a persistent store.
// Must be called before Start.
func (r *Registry) SetEventHook(fn func(runID string, event Event)) {
	r.onEvent = fn
}

// SetFinishHook observes terminal transitions. Must be called before Start.
func (r *Registry) SetFinishHook(fn func(runID string, status RunStatus, outcome *Outcome, err error)) {
	r.onDone = fn
}

// Start creates a run record and kicks off execution in the background,
// returning the run id immediately.
func (r *Registry) Start(plan Plan, input Input) (string, error) {
	id, err := randomID("run")
	if err != nil {
		return "", fmt.Errorf("allocate run id: %w", err)
	}
	item := &run{
		id:     id,
		log:    NewEventLog(),
		done:   make(chan struct{}),
		status: StatusRunning,
	}
	if r.onEvent != nil {
		hook := r.onEvent
		item.log.SetObserver(func(event Event) {
			hook(id, event)
		})
	}
	r.mu.Lock()
	r.runs[id] = item
	r.mu.Unlock()

	go r.execute(item, plan, input)
	return id, nil
}

func (r *Registry) execute(item *run, plan Plan, input Input) {
	// Bounded batch concurrency: the semaphore is the only backpressure
	// mechanism; inside a run the fan-out is unbounded.
	_ = r.sem.Acquire(context.Background(), 1)
	defer r.sem.Release(1)

	outcome, err := r.orch.execute(context.Background(), plan, input, item.log)

	// The terminal event goes in before the status flips so that a poll
	// observing a terminal status is guaranteed the full trail.
	status := StatusSucceeded
	if err != nil {
		status = StatusFailed
		item.log.Append("run", "run failed", map[string]any{"error": err.Error()})
	}
	item.mu.Lock()
	item.status = status
	item.err = err
	item.outcome = &outcome
	item.mu.Unlock()

	// The finish hook completes before done is signalled so that a waiter
	// observes whatever the hook persisted.
	if r.onDone != nil {
		r.onDone(item.id, status, &outcome, err)
	}
	close(item.done)
}

// Poll returns events appended since cursor, whether the run is terminal,
// the next cursor, and the status. Cursors are monotonic; re-polling the
// same cursor is safe.
func (r *Registry) Poll(runID string, cursor int) ([]Event, bool, int, RunStatus, error) {
	item, err := r.get(runID)
	if err != nil {
		return nil, false, cursor, "", err
	}
	// Status is read before the events: a terminal status means the final
	// events were already appended, so this read cannot miss them.
	item.mu.Lock()
	status := item.status
	item.mu.Unlock()
	events, next := item.log.Since(cursor)
	return events, status.Terminal(), next, status, nil
}

// Status is a cheap state check without event payloads.
func (r *Registry) Status(runID string) (RunStatus, bool, error) {
	item, err := r.get(runID)
	if err != nil {
		return "", false, err
	}
	item.mu.Lock()
	defer item.mu.Unlock()
	return item.status, item.status.Terminal(), nil
}

// Result returns the outcome once terminal, nil while running. A failed run
// returns its partial outcome plus the run error.
func (r *Registry) Result(runID string) (*Outcome, error) {
	item, err := r.get(runID)
	if err != nil {
		return nil, err
	}
	item.mu.Lock()
	defer item.mu.Unlock()
	if !item.status.Terminal() {
		return nil, nil
	}
	return item.outcome, item.err
}

// Wait blocks until the run reaches a terminal state or ctx is done.
func (r *Registry) Wait(ctx context.Context, runID string) error {
	item, err := r.get(runID)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-item.done:
		return nil
	}
}

// Evict drops a terminal run after the caller has retrieved its result.
// Evicting a live run is refused.
func (r *Registry) Evict(runID string) error {
	item, err := r.get(runID)
	if err != nil {
		return err
	}
	item.mu.Lock()
	terminal := item.status.Terminal()
	item.mu.Unlock()
	if !terminal {
		return fmt.Errorf("run %s still running", runID)
	}
	r.mu.Lock()
	delete(r.runs, runID)
	r.mu.Unlock()
	return nil
}

func (r *Registry) get(runID string) (*run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return item, nil
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}
