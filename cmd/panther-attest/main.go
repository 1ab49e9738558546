package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"panther-attest/internal/agent"
	"panther-attest/internal/anchor"
	"panther-attest/internal/proof"
	"panther-attest/internal/provider"
	"panther-attest/internal/validate"
)

// attestation is the self-contained document written by -out and consumed
// by -verify: everything needed to recompute the proof travels with it.
type attestation struct {
	GeneratedAt string        `json:"generated_at"`
	Plan        agent.Plan    `json:"plan"`
	Input       agent.Input   `json:"input"`
	Outcome     agent.Outcome `json:"outcome"`
	Events      []agent.Event `json:"events"`
}

func main() {
	planPath := flag.String("plan", "", "Path to plan JSON (optional; defaults to ValidateSealAnchor without anchoring)")
	inputPath := flag.String("input", "", "Path to input JSON with prompt, providers and optional salt")
	prompt := flag.String("prompt", envOr("ATTEST_PROMPT", ""), "Prompt to validate (ignored when -input is set)")
	providersJSON := flag.String("providers", envOr("ATTEST_PROVIDERS", ""), "Inline provider config JSON array (ignored when -input is set)")
	salt := flag.String("salt", "", "Optional proof salt (ignored when -input is set)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall run timeout")
	format := flag.String("format", "text", "Output format: text|json")
	outputPath := flag.String("out", "", "Write attestation JSON to this file")
	verifyPath := flag.String("verify", "", "Verify an attestation JSON file and exit")
	strict := flag.Bool("strict", false, "Exit non-zero when the run fails or the proof does not anchor")
	flag.Parse()

	if strings.TrimSpace(*verifyPath) != "" {
		verifyAttestation(*verifyPath, *format)
		return
	}

	plan := agent.Plan{Type: agent.PlanValidateSealAnchor}
	if strings.TrimSpace(*planPath) != "" {
		raw, err := os.ReadFile(filepath.Clean(*planPath))
		if err != nil {
			exitWith("failed to read plan: " + err.Error())
		}
		plan, err = agent.ParsePlan(string(raw))
		if err != nil {
			exitWith(err.Error())
		}
	}

	var input agent.Input
	if strings.TrimSpace(*inputPath) != "" {
		raw, err := os.ReadFile(filepath.Clean(*inputPath))
		if err != nil {
			exitWith("failed to read input: " + err.Error())
		}
		input, err = agent.ParseInput(string(raw))
		if err != nil {
			exitWith(err.Error())
		}
	} else {
		if strings.TrimSpace(*prompt) == "" {
			exitWith("-prompt or -input is required")
		}
		input.Prompt = *prompt
		if strings.TrimSpace(*providersJSON) != "" {
			if err := json.Unmarshal([]byte(*providersJSON), &input.Providers); err != nil {
				exitWith("failed to parse -providers: " + err.Error())
			}
		} else {
			input.Providers = []provider.Config{{Type: "echo"}}
		}
		if strings.TrimSpace(*salt) != "" {
			input.Salt = salt
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	orch := agent.NewOrchestrator(anchor.NewRPCClient())
	outcome, events, runErr := orch.RunPlan(ctx, plan, input)

	doc := attestation{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Plan:        plan,
		Input:       input,
		Outcome:     outcome,
		Events:      events,
	}

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		printJSON(doc)
	default:
		printText(doc, runErr)
	}

	if strings.TrimSpace(*outputPath) != "" {
		if err := writeJSONFile(*outputPath, doc); err != nil {
			exitWith("failed to write attestation: " + err.Error())
		}
	}

	if runErr != nil {
		exitWith(runErr.Error())
	}
	if *strict && outcome.Anchored != nil && !*outcome.Anchored {
		os.Exit(1)
	}
}

func verifyAttestation(path, format string) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		exitWith("failed to read attestation: " + err.Error())
	}
	var doc attestation
	if err := json.Unmarshal(raw, &doc); err != nil {
		exitWith("failed to parse attestation: " + err.Error())
	}
	if doc.Outcome.Proof == nil {
		exitWith("attestation has no proof")
	}
	providersRaw, err := json.Marshal(doc.Input.Providers)
	if err != nil {
		exitWith("failed to encode providers: " + err.Error())
	}
	resultsRaw, err := json.Marshal(doc.Outcome.Results)
	if err != nil {
		exitWith("failed to encode results: " + err.Error())
	}
	guidelinesJSON := validate.DefaultGuidelinesJSON()
	if doc.Plan.GuidelinesJSON != nil {
		guidelinesJSON = *doc.Plan.GuidelinesJSON
	}
	valid := proof.VerifyLocal(*doc.Outcome.Proof, doc.Input.Prompt,
		string(providersRaw), guidelinesJSON, string(resultsRaw), doc.Input.Salt)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		printJSON(map[string]any{
			"valid":         valid,
			"scheme":        doc.Outcome.Proof.Scheme,
			"combined_hash": doc.Outcome.Proof.CombinedHash,
		})
	default:
		fmt.Printf("Scheme: %s\n", doc.Outcome.Proof.Scheme)
		fmt.Printf("Combined hash: %s\n", doc.Outcome.Proof.CombinedHash)
		if valid {
			fmt.Println("Verification: VALID")
		} else {
			fmt.Println("Verification: INVALID")
		}
	}
	if !valid {
		os.Exit(1)
	}
}

func printText(doc attestation, runErr error) {
	fmt.Printf("Generated: %s\n", doc.GeneratedAt)
	fmt.Printf("Prompt: %s\n\n", doc.Input.Prompt)

	for _, event := range doc.Events {
		fmt.Printf("[%s] %s\n", event.Stage, event.Message)
	}
	fmt.Println()

	for _, result := range doc.Outcome.Results {
		fmt.Printf("%-24s score=%.1f latency=%dms", result.ProviderName, result.AdherenceScore, result.LatencyMS)
		if len(result.MissingTerms) > 0 {
			fmt.Printf(" missing=%s", strings.Join(result.MissingTerms, ","))
		}
		fmt.Println()
	}
	if doc.Outcome.Proof != nil {
		fmt.Printf("\nProof (%s)\n", doc.Outcome.Proof.Scheme)
		fmt.Printf("  input:    %s\n", doc.Outcome.Proof.InputHash)
		fmt.Printf("  results:  %s\n", doc.Outcome.Proof.ResultsHash)
		fmt.Printf("  combined: %s\n", doc.Outcome.Proof.CombinedHash)
	}
	if doc.Outcome.TxHash != nil {
		fmt.Printf("Anchor tx: %s\n", *doc.Outcome.TxHash)
	}
	if doc.Outcome.Anchored != nil {
		fmt.Printf("Anchored: %v\n", *doc.Outcome.Anchored)
	}
	if runErr != nil {
		fmt.Printf("Run error: %s\n", runErr)
	}
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		exitWith("failed to encode JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func writeJSONFile(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(path), data, 0o644)
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, message)
	os.Exit(1)
}
