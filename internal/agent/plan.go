package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"panther-attest/internal/anchor"
	"panther-attest/internal/proof"
	"panther-attest/internal/provider"
	"panther-attest/internal/validate"
)

// PlanValidateSealAnchor is the only plan shape: validate, seal into a proof,
// then optionally anchor on-ledger and confirm.
const PlanValidateSealAnchor = "ValidateSealAnchor"

// ConfigError covers unusable plans or inputs. It is fatal, surfaced
// immediately, and never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Reason
}

// Plan describes one orchestrated run. Missing guidelines fall back to the
// bundled set; missing timeouts and retries use the stage defaults.
type Plan struct {
	Type           string         `json:"type"`
	GuidelinesJSON *string        `json:"guidelines_json,omitempty"`
	Anchor         *anchor.Config `json:"anchor,omitempty"`
	TimeoutsMS     *Timeouts      `json:"timeouts_ms,omitempty"`
	Retries        *Retries       `json:"retries,omitempty"`
}

type Timeouts struct {
	ValidateMS *int64 `json:"validate_ms,omitempty"`
	AnchorMS   *int64 `json:"anchor_ms,omitempty"`
	StatusMS   *int64 `json:"status_ms,omitempty"`
}

type Retries struct {
	Validate *int `json:"validate,omitempty"`
	Anchor   *int `json:"anchor,omitempty"`
	Status   *int `json:"status,omitempty"`
}

// Input is the material validated and sealed by a run.
type Input struct {
	Prompt    string            `json:"prompt"`
	Providers []provider.Config `json:"providers"`
	Salt      *string           `json:"salt,omitempty"`
}

// Outcome collects stage products. Fields stay nil when their stage was
// skipped or never reached.
type Outcome struct {
	Results  []validate.Result `json:"results,omitempty"`
	Proof    *proof.Proof      `json:"proof,omitempty"`
	TxHash   *string           `json:"tx_hash,omitempty"`
	Anchored *bool             `json:"anchored,omitempty"`
}

func ParsePlan(raw string) (Plan, error) {
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return Plan{}, &ConfigError{Reason: fmt.Sprintf("unparsable plan: %v", err)}
	}
	if plan.Type == "" {
		plan.Type = PlanValidateSealAnchor
	}
	return plan, nil
}

func ParseInput(raw string) (Input, error) {
	var input Input
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return Input{}, &ConfigError{Reason: fmt.Sprintf("unparsable input: %v", err)}
	}
	return input, nil
}

func (p Plan) validatePolicy() Policy {
	return Policy{
		Timeout: millisOr(timeoutField(p.TimeoutsMS, func(t *Timeouts) *int64 { return t.ValidateMS }), 30*time.Second),
		Retries: intOr(retryField(p.Retries, func(r *Retries) *int { return r.Validate }), 0),
		Backoff: validateBackoff(),
	}
}

func (p Plan) anchorPolicy() Policy {
	return Policy{
		Timeout: millisOr(timeoutField(p.TimeoutsMS, func(t *Timeouts) *int64 { return t.AnchorMS }), 30*time.Second),
		Retries: intOr(retryField(p.Retries, func(r *Retries) *int { return r.Anchor }), 0),
		Backoff: anchorBackoff(),
	}
}

func (p Plan) statusPolicy() Policy {
	return Policy{
		Timeout: millisOr(timeoutField(p.TimeoutsMS, func(t *Timeouts) *int64 { return t.StatusMS }), 5*time.Second),
		Retries: intOr(retryField(p.Retries, func(r *Retries) *int { return r.Status }), 0),
		Backoff: statusBackoff(),
	}
}

func timeoutField(t *Timeouts, pick func(*Timeouts) *int64) *int64 {
	if t == nil {
		return nil
	}
	return pick(t)
}

func retryField(r *Retries, pick func(*Retries) *int) *int {
	if r == nil {
		return nil
	}
	return pick(r)
}

func millisOr(value *int64, fallback time.Duration) time.Duration {
	if value == nil || *value <= 0 {
		return fallback
	}
	return time.Duration(*value) * time.Millisecond
}

func intOr(value *int, fallback int) int {
	if value == nil || *value < 0 {
		return fallback
	}
	return *value
}
