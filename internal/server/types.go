package server

import (
	"time"

	"panther-attest/internal/agent"
)

// RunMeta is the stored record for one agent run.
type RunMeta struct {
	RunID      string         `json:"run_id"`
	Status     string         `json:"status"`
	Source     string         `json:"source"`
	Plan       agent.Plan     `json:"plan"`
	Prompt     string         `json:"prompt"`
	CreatedAt  string         `json:"created_at"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	Outcome    *agent.Outcome `json:"outcome,omitempty"`
}

// RunEvent is one persisted audit record, addressed by a per-run sequence.
type RunEvent struct {
	Seq     int64  `json:"seq"`
	TS      int64  `json:"ts"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// RunRequest is the body of both the blocking and the asynchronous run
// endpoints: a plan plus the validation input.
type RunRequest struct {
	Plan  *agent.Plan `json:"plan,omitempty"`
	Input agent.Input `json:"input"`
}

// ProofRequest feeds the standalone compute endpoint.
type ProofRequest struct {
	Prompt         string  `json:"prompt"`
	ProvidersJSON  string  `json:"providers_json"`
	GuidelinesJSON string  `json:"guidelines_json,omitempty"`
	ResultsJSON    string  `json:"results_json"`
	Salt           *string `json:"salt,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt      string  `json:"generated_at"`
	TotalRuns        int     `json:"total_runs"`
	RunningRuns      int     `json:"running_runs"`
	SucceededRuns    int     `json:"succeeded_runs"`
	FailedRuns       int     `json:"failed_runs"`
	AnchoredRuns     int     `json:"anchored_runs"`
	AverageAdherence float64 `json:"average_adherence_score"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
