package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"panther-attest/internal/agent"
	"panther-attest/internal/proof"
	"panther-attest/internal/validate"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type API struct {
	auth   *Auth
	store  Store
	runner *RunManager
	obs    *Observability
}

func NewAPI(auth *Auth, store Store, runner *RunManager, obs *Observability) *API {
	return &API{
		auth:   auth,
		store:  store,
		runner: runner,
		obs:    obs,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)

	mux.Handle("POST /api/v1/agent/runs", a.auth.Require(http.HandlerFunc(a.handleRunSync)))
	mux.Handle("POST /api/v1/agent/start", a.auth.Require(http.HandlerFunc(a.handleStart)))
	mux.Handle("GET /api/v1/agent/runs/{id}/poll", a.auth.Require(http.HandlerFunc(a.handlePoll)))
	mux.Handle("GET /api/v1/agent/runs/{id}/status", a.auth.Require(http.HandlerFunc(a.handleStatus)))
	mux.Handle("GET /api/v1/agent/runs/{id}/result", a.auth.Require(http.HandlerFunc(a.handleResult)))
	mux.Handle("GET /api/v1/agent/runs/{id}/events", a.auth.Require(http.HandlerFunc(a.handleEventsSSE)))

	mux.Handle("POST /api/v1/proof/compute", a.auth.Require(http.HandlerFunc(a.handleProofCompute)))
	mux.Handle("POST /api/v1/proof/verify", a.auth.Require(http.HandlerFunc(a.handleProofVerify)))

	mux.Handle("GET /api/v1/admin/runs", a.auth.Require(http.HandlerFunc(a.handleListRuns)))
	mux.Handle("GET /api/v1/admin/metrics/overview", a.auth.Require(http.HandlerFunc(a.handleOverview)))

	wrapped := otelhttp.NewHandler(mux, "attest-api-http")
	return withCORS(wrapped)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": nowRFC3339(),
	})
}

func (a *API) handleRunSync(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("attest-api").Start(r.Context(), "agent.run_sync")
	defer span.End()
	var req RunRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	meta, events, err := a.runner.RunSync(ctx, req, "api.sync")
	if err != nil {
		span.RecordError(err)
		writeError(w, statusForRunError(err), err.Error())
		return
	}
	span.SetAttributes(attribute.String("run.id", meta.RunID))
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  meta.RunID,
		"status":  meta.Status,
		"outcome": meta.Outcome,
		"error":   meta.Error,
		"events":  events,
	})
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	_, span := otel.Tracer("attest-api").Start(r.Context(), "agent.start")
	defer span.End()
	var req RunRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	meta, err := a.runner.CreateRun(req, "api.async")
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.String("run.id", meta.RunID))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": meta.RunID,
		"status": meta.Status,
	})
}

func (a *API) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}
	cursor := int(parseCursor(r))
	events, done, next, status, err := a.runner.Registry().Poll(id, cursor)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"done":   done,
		"cursor": next,
		"status": status,
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	status, done, err := a.runner.Registry().Status(id)
	if err != nil {
		meta, ok := a.store.GetRun(id)
		if !ok {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": meta.Status,
			"done":   meta.FinishedAt != "",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"done":   done,
	})
}

func (a *API) handleResult(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	meta, ok := a.store.GetRun(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}
	if _, ok := a.store.GetRun(id); !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	cursor := parseCursor(r)
	send := func(events []RunEvent) {
		for _, event := range events {
			payload, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				continue
			}
			fmt.Fprintf(w, "event: run_event\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			cursor = event.Seq
		}
		flusher.Flush()
	}
	send(a.store.ListRunEvents(id, cursor))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events := a.store.ListRunEvents(id, cursor)
			if len(events) > 0 {
				send(events)
			} else {
				_, _ = fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
			if meta, ok := a.store.GetRun(id); ok && meta.FinishedAt != "" && len(events) == 0 {
				return
			}
		}
	}
}

func (a *API) handleProofCompute(w http.ResponseWriter, r *http.Request) {
	var req ProofRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	guidelinesJSON := req.GuidelinesJSON
	if strings.TrimSpace(guidelinesJSON) == "" {
		guidelinesJSON = validate.DefaultGuidelinesJSON()
	}
	p, err := proof.Compute(req.Prompt, req.ProvidersJSON, guidelinesJSON, req.ResultsJSON, proof.Context{
		SDKVersion: agent.SDKVersion,
		Salt:       req.Salt,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleProofVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Proof          proof.Proof `json:"proof"`
		Prompt         string      `json:"prompt"`
		ProvidersJSON  string      `json:"providers_json"`
		GuidelinesJSON string      `json:"guidelines_json,omitempty"`
		ResultsJSON    string      `json:"results_json"`
		Salt           *string     `json:"salt,omitempty"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	guidelinesJSON := req.GuidelinesJSON
	if strings.TrimSpace(guidelinesJSON) == "" {
		guidelinesJSON = validate.DefaultGuidelinesJSON()
	}
	valid := proof.VerifyLocal(req.Proof, req.Prompt, req.ProvidersJSON, guidelinesJSON, req.ResultsJSON, req.Salt)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  valid,
		"scheme": req.Proof.Scheme,
	})
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": a.store.ListRuns(parseLimit(r, 100)),
	})
}

func (a *API) handleOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.GetMetricsOverview())
}

func statusForRunError(err error) int {
	var cfgErr *agent.ConfigError
	if errors.As(err, &cfgErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
