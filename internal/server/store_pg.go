package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"panther-attest/internal/agent"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) CreateRun(meta RunMeta) error {
	plan, _ := json.Marshal(meta.Plan)
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO runs (run_id,status,source,plan,prompt,created_at,started_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		meta.RunID, meta.Status, meta.Source, plan, meta.Prompt, meta.CreatedAt,
		nullStr(meta.StartedAt))
	return err
}

func (s *PgStore) UpdateRun(runID string, mutate func(*RunMeta)) (RunMeta, error) {
	tx, err := s.pool.Begin(context.Background())
	if err != nil {
		return RunMeta{}, err
	}
	defer tx.Rollback(context.Background())

	row := tx.QueryRow(context.Background(),
		`SELECT run_id,status,source,plan,prompt,created_at,started_at,finished_at,error,outcome
		 FROM runs WHERE run_id=$1 FOR UPDATE`, runID)
	meta, err := scanRunMeta(row)
	if err != nil {
		return RunMeta{}, fmt.Errorf("run not found: %s", runID)
	}
	if mutate != nil {
		mutate(&meta)
	}
	plan, _ := json.Marshal(meta.Plan)
	var outcomeJSON []byte
	if meta.Outcome != nil {
		outcomeJSON, _ = json.Marshal(meta.Outcome)
	}
	_, err = tx.Exec(context.Background(),
		`UPDATE runs SET status=$1,started_at=$2,finished_at=$3,error=$4,outcome=$5,plan=$6
		 WHERE run_id=$7`,
		meta.Status, nullStr(meta.StartedAt), nullStr(meta.FinishedAt), meta.Error,
		outcomeJSON, plan, runID)
	if err != nil {
		return RunMeta{}, err
	}
	return meta, tx.Commit(context.Background())
}

func (s *PgStore) GetRun(runID string) (RunMeta, bool) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT run_id,status,source,plan,prompt,created_at,started_at,finished_at,error,outcome
		 FROM runs WHERE run_id=$1`, runID)
	meta, err := scanRunMeta(row)
	if err != nil {
		return RunMeta{}, false
	}
	return meta, true
}

func (s *PgStore) ListRuns(limit int) []RunMeta {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT run_id,status,source,plan,prompt,created_at,started_at,finished_at,error,outcome
		 FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return []RunMeta{}
	}
	defer rows.Close()
	var out []RunMeta
	for rows.Next() {
		meta, err := scanRunMeta(rows)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	if out == nil {
		return []RunMeta{}
	}
	return out
}

func (s *PgStore) AppendRunEvent(runID string, ts int64, stage, message string, data any) (RunEvent, error) {
	var dataJSON []byte
	if data != nil {
		dataJSON, _ = json.Marshal(data)
	}
	var seq int64
	err := s.pool.QueryRow(context.Background(),
		`INSERT INTO run_events (run_id, seq, ts, stage, message, data)
		 VALUES ($1, COALESCE((SELECT MAX(seq) FROM run_events WHERE run_id=$1),0)+1, $2, $3, $4, $5)
		 RETURNING seq`, runID, ts, stage, message, dataJSON).Scan(&seq)
	if err != nil {
		return RunEvent{}, err
	}
	return RunEvent{
		Seq:     seq,
		TS:      ts,
		Stage:   stage,
		Message: message,
		Data:    data,
	}, nil
}

func (s *PgStore) ListRunEvents(runID string, sinceSeq int64) []RunEvent {
	rows, err := s.pool.Query(context.Background(),
		`SELECT seq, ts, stage, message, data
		 FROM run_events WHERE run_id=$1 AND seq>$2 ORDER BY seq`, runID, sinceSeq)
	if err != nil {
		return []RunEvent{}
	}
	defer rows.Close()
	var out []RunEvent
	for rows.Next() {
		var e RunEvent
		var dataJSON []byte
		if err := rows.Scan(&e.Seq, &e.TS, &e.Stage, &e.Message, &dataJSON); err != nil {
			continue
		}
		if len(dataJSON) > 0 {
			_ = json.Unmarshal(dataJSON, &e.Data)
		}
		out = append(out, e)
	}
	if out == nil {
		return []RunEvent{}
	}
	return out
}

func (s *PgStore) GetMetricsOverview() MetricsOverview {
	overview := MetricsOverview{GeneratedAt: nowRFC3339()}
	_ = s.pool.QueryRow(context.Background(),
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status='running'),
			COUNT(*) FILTER (WHERE status='succeeded'),
			COUNT(*) FILTER (WHERE status='failed')
		 FROM runs`).Scan(
		&overview.TotalRuns, &overview.RunningRuns,
		&overview.SucceededRuns, &overview.FailedRuns)

	rows, _ := s.pool.Query(context.Background(),
		`SELECT outcome FROM runs WHERE outcome IS NOT NULL`)
	if rows != nil {
		defer rows.Close()
		var adherenceTotal float64
		var adherenceCount int
		for rows.Next() {
			var outcomeJSON []byte
			if rows.Scan(&outcomeJSON) != nil {
				continue
			}
			var outcome agent.Outcome
			if json.Unmarshal(outcomeJSON, &outcome) != nil {
				continue
			}
			if outcome.Anchored != nil && *outcome.Anchored {
				overview.AnchoredRuns++
			}
			for _, result := range outcome.Results {
				adherenceTotal += result.AdherenceScore
				adherenceCount++
			}
		}
		if adherenceCount > 0 {
			overview.AverageAdherence = adherenceTotal / float64(adherenceCount)
		}
	}
	return overview
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanRunMeta(row scannable) (RunMeta, error) {
	var m RunMeta
	var planJSON, outcomeJSON []byte
	var startedAt, finishedAt, source, errStr *string
	err := row.Scan(&m.RunID, &m.Status, &source, &planJSON, &m.Prompt,
		&m.CreatedAt, &startedAt, &finishedAt, &errStr, &outcomeJSON)
	if err != nil {
		return RunMeta{}, err
	}
	m.Source = deref(source)
	m.StartedAt = deref(startedAt)
	m.FinishedAt = deref(finishedAt)
	m.Error = deref(errStr)
	_ = json.Unmarshal(planJSON, &m.Plan)
	if len(outcomeJSON) > 0 {
		var o agent.Outcome
		if json.Unmarshal(outcomeJSON, &o) == nil {
			m.Outcome = &o
		}
	}
	return m, nil
}

func nullStr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Ensure PgStore implements Store at compile time.
var _ Store = (*PgStore)(nil)
