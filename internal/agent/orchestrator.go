package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"panther-attest/internal/anchor"
	"panther-attest/internal/proof"
	"panther-attest/internal/provider"
	"panther-attest/internal/validate"
)

// SDKVersion is embedded in proofs as metadata. It is not a hash input.
const SDKVersion = "0.4.0"

// ProviderFactory builds providers from request configuration. Swappable so
// tests can inject in-process fakes.
type ProviderFactory func([]provider.Config) []provider.Named

// Orchestrator drives a plan through its stages:
// validate -> seal -> (anchor -> status)? Each stage runs under its own
// timeout/retry policy; transitions are forward-only.
type Orchestrator struct {
	anchorer  anchor.Anchorer
	providers ProviderFactory
	version   string
	logger    *slog.Logger
}

func NewOrchestrator(anchorer anchor.Anchorer) *Orchestrator {
	return &Orchestrator{
		anchorer:  anchorer,
		providers: provider.Build,
		version:   SDKVersion,
		logger:    slog.Default(),
	}
}

// WithProviderFactory overrides backend construction.
func (o *Orchestrator) WithProviderFactory(factory ProviderFactory) *Orchestrator {
	o.providers = factory
	return o
}

// RunPlan executes a plan to its terminal state, blocking the caller. The
// returned event list is complete regardless of the error: per-attempt
// failures are recorded before any retry or escalation.
func (o *Orchestrator) RunPlan(ctx context.Context, plan Plan, input Input) (Outcome, []Event, error) {
	log := NewEventLog()
	outcome, err := o.execute(ctx, plan, input, log)
	return outcome, log.Snapshot(), err
}

func (o *Orchestrator) execute(ctx context.Context, plan Plan, input Input, log *EventLog) (Outcome, error) {
	var outcome Outcome

	if plan.Type != PlanValidateSealAnchor {
		return outcome, &ConfigError{Reason: fmt.Sprintf("unsupported plan type %q", plan.Type)}
	}

	guidelinesJSON := validate.DefaultGuidelinesJSON()
	if plan.GuidelinesJSON != nil {
		guidelinesJSON = *plan.GuidelinesJSON
	}
	guidelines, err := validate.ParseGuidelines(guidelinesJSON)
	if err != nil {
		return outcome, &ConfigError{Reason: err.Error()}
	}
	validator, err := validate.New(guidelines, o.providers(input.Providers))
	if err != nil {
		if errors.Is(err, validate.ErrNoProviders) {
			return outcome, &ConfigError{Reason: err.Error()}
		}
		return outcome, err
	}

	// ---- validate ----
	policy := plan.validatePolicy()
	log.Append(stageValidate, fmt.Sprintf("starting validation (retries=%d)", policy.Retries), nil)
	var results []validate.Result
	err = policy.Run(ctx, stageValidate, log, func(opCtx context.Context) error {
		results = validator.Validate(opCtx, input.Prompt)
		// The fan-out always joins; a deadline shows up as opCtx.Err and is
		// converted into a stage timeout by the policy.
		return nil
	})
	if err != nil {
		o.logger.Warn("validate stage exhausted", "error", err)
		return outcome, fmt.Errorf("validate stage: %w", err)
	}
	log.Append(stageValidate, "validation complete", results)
	outcome.Results = results

	// ---- seal ----
	log.Append(stageSeal, "computing proof", nil)
	providersJSON, err := json.Marshal(input.Providers)
	if err != nil {
		return outcome, fmt.Errorf("marshal providers: %w", err)
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return outcome, fmt.Errorf("marshal results: %w", err)
	}
	sealed, err := proof.Compute(input.Prompt, string(providersJSON), guidelinesJSON, string(resultsJSON), proof.Context{
		SDKVersion: o.version,
		Salt:       input.Salt,
	})
	if err != nil {
		return outcome, fmt.Errorf("seal stage: %w", err)
	}
	log.Append(stageSeal, "proof computed", sealed)
	outcome.Proof = &sealed

	if plan.Anchor == nil {
		return outcome, nil
	}

	// ---- anchor ----
	policy = plan.anchorPolicy()
	log.Append(stageAnchor, fmt.Sprintf("anchoring on-chain (retries=%d)", policy.Retries), nil)
	var receipt anchor.Receipt
	err = policy.Run(ctx, stageAnchor, log, func(opCtx context.Context) error {
		var anchorErr error
		receipt, anchorErr = o.anchorer.Anchor(opCtx, sealed.CombinedHash, *plan.Anchor)
		return anchorErr
	})
	if err != nil {
		o.logger.Warn("anchor stage exhausted", "error", err)
		return outcome, fmt.Errorf("anchor stage: %w", err)
	}
	log.Append(stageAnchor, "anchor tx submitted", receipt)
	outcome.TxHash = &receipt.TxHash

	// ---- status ----
	// Exhaustion here is non-fatal: "not yet confirmed" is an acceptable
	// terminal state, unlike a failed validate or anchor.
	policy = plan.statusPolicy()
	anchored := false
	err = policy.Run(ctx, stageStatus, log, func(opCtx context.Context) error {
		var statusErr error
		anchored, statusErr = o.anchorer.IsAnchored(opCtx, sealed.CombinedHash, *plan.Anchor)
		return statusErr
	})
	if err != nil {
		anchored = false
	}
	outcome.Anchored = &anchored
	log.Append(stageStatus, "status checked", map[string]any{"anchored": anchored})

	return outcome, nil
}

const (
	stageValidate = "validate"
	stageSeal     = "seal"
	stageAnchor   = "anchor"
	stageStatus   = "status"
)

// OutcomeFromEvents rebuilds an outcome by replaying an event trail. The log
// is the source of truth: for any completed run this reconstruction equals
// the stored outcome.
func OutcomeFromEvents(events []Event) Outcome {
	var outcome Outcome
	for _, event := range events {
		switch {
		case event.Stage == stageValidate && event.Message == "validation complete":
			var results []validate.Result
			if decodeEventData(event.Data, &results) {
				outcome.Results = results
			}
		case event.Stage == stageSeal && event.Message == "proof computed":
			var sealed proof.Proof
			if decodeEventData(event.Data, &sealed) {
				outcome.Proof = &sealed
			}
		case event.Stage == stageAnchor && event.Message == "anchor tx submitted":
			var receipt anchor.Receipt
			if decodeEventData(event.Data, &receipt) {
				outcome.TxHash = &receipt.TxHash
			}
		case event.Stage == stageStatus && event.Message == "status checked":
			var payload struct {
				Anchored bool `json:"anchored"`
			}
			if decodeEventData(event.Data, &payload) {
				outcome.Anchored = &payload.Anchored
			}
		}
	}
	return outcome
}

// decodeEventData tolerates both in-process payloads (typed values) and
// payloads round-tripped through JSON (maps and slices).
func decodeEventData(data any, out any) bool {
	if data == nil {
		return false
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
