package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ambuplan/internal/model"
	"ambuplan/internal/sim"
)

// dialect carries what differs between the SQL backends.
type dialect struct {
	name     string
	jsonType string
	dollar   bool // $1 placeholders instead of ?
}

var (
	postgresDialect = dialect{name: "postgres", jsonType: "JSONB", dollar: true}
	sqliteDialect   = dialect{name: "sqlite", jsonType: "TEXT"}
)

func (d dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			name TEXT,
			planner TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			metrics ` + d.jsonType + `,
			created_at BIGINT NOT NULL,
			finished_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS runs_planner_idx ON runs (planner, id)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			step INTEGER NOT NULL,
			payload ` + d.jsonType + ` NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS plan_metrics (
			run_id TEXT NOT NULL,
			planner TEXT NOT NULL,
			solves INTEGER NOT NULL,
			iterations INTEGER NOT NULL,
			best_cost DOUBLE PRECISION,
			stop TEXT,
			metrics ` + d.jsonType + ` NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (run_id, planner)
		)`,
	}
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.dollar {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore implements Store over database/sql; Postgres and SQLite embed it.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(q), args...)
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqlStore) Close() error                   { return s.db.Close() }

func unixNano(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *sqlStore) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
	run, err := prepareRun(run)
	if err != nil {
		return run, err
	}
	js, err := json.Marshal(run.Metrics)
	if err != nil {
		return run, err
	}
	_, err = s.exec(ctx, `INSERT INTO runs (id, name, planner, status, error, metrics, created_at, finished_at) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, nullIfEmpty(run.Name), run.Planner, run.Status, nullIfEmpty(run.Error), string(js), run.CreatedAt.UnixNano(), unixNano(run.FinishedAt))
	if err != nil {
		return run, err
	}
	return run, nil
}

func (s *sqlStore) UpdateRun(ctx context.Context, run model.Run) error {
	js, err := json.Marshal(run.Metrics)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE runs SET name=?, planner=?, status=?, error=?, metrics=?, finished_at=? WHERE id=?`,
		nullIfEmpty(run.Name), run.Planner, run.Status, nullIfEmpty(run.Error), string(js), unixNano(run.FinishedAt), run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, name, planner, status, error, metrics, created_at, finished_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanRun(row rowScanner) (model.Run, error) {
	var r model.Run
	var name, errText sql.NullString
	var js []byte
	var created int64
	var finished sql.NullInt64
	if err := row.Scan(&r.ID, &name, &r.Planner, &r.Status, &errText, &js, &created, &finished); err != nil {
		return r, err
	}
	r.Name, r.Error = name.String, errText.String
	if len(js) > 0 {
		if err := json.Unmarshal(js, &r.Metrics); err != nil {
			return r, fmt.Errorf("run %s metrics: %w", r.ID, err)
		}
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		r.FinishedAt = &t
	}
	return r, nil
}

func (s *sqlStore) GetRun(ctx context.Context, id string) (model.Run, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+runColumns+` FROM runs WHERE id=?`), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	return r, err
}

func (s *sqlStore) ListRuns(ctx context.Context, planner, cursor string, limit int) ([]model.Run, string, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + runColumns + ` FROM runs WHERE id > ?`
	args := []any{cursor}
	if planner != "" {
		q += ` AND planner = ?`
		args = append(args, planner)
	}
	q += ` ORDER BY id LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (s *sqlStore) AppendEvents(ctx context.Context, runID string, events []sim.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	err = tx.QueryRowContext(ctx, s.d.rebind(`SELECT COALESCE((SELECT MAX(seq) FROM run_events WHERE run_id=?), 0) FROM runs WHERE id=?`), runID, runID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.d.rebind(`INSERT INTO run_events (run_id, seq, type, step, payload) VALUES (?,?,?,?,?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range events {
		js, err := json.Marshal(e)
		if err != nil {
			return err
		}
		seq++
		if _, err := stmt.ExecContext(ctx, runID, seq, string(e.Type), e.Step, string(js)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) ListEvents(ctx context.Context, runID string) ([]sim.Event, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT payload FROM run_events WHERE run_id=? ORDER BY seq`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []sim.Event{}
	for rows.Next() {
		var js []byte
		if err := rows.Scan(&js); err != nil {
			return nil, err
		}
		var e sim.Event
		if err := json.Unmarshal(js, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) SavePlanMetrics(ctx context.Context, pm model.PlanMetrics) error {
	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = time.Now().UTC()
	}
	js, err := json.Marshal(pm.Metrics)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO plan_metrics (run_id, planner, solves, iterations, best_cost, stop, metrics, created_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (run_id, planner) DO UPDATE SET
		  solves=excluded.solves, iterations=excluded.iterations, best_cost=excluded.best_cost,
		  stop=excluded.stop, metrics=excluded.metrics, created_at=excluded.created_at`,
		pm.Run, pm.Planner, pm.Solves, pm.Metrics.Iterations, pm.Metrics.BestCost, nullIfEmpty(string(pm.Metrics.Stop)), string(js), pm.CreatedAt.UnixNano())
	return err
}

func (s *sqlStore) ListPlanMetrics(ctx context.Context, runID, planner string) ([]model.PlanMetrics, error) {
	q := `SELECT run_id, planner, solves, metrics, created_at FROM plan_metrics WHERE 1=1`
	var args []any
	if runID != "" {
		q += ` AND run_id = ?`
		args = append(args, runID)
	}
	if planner != "" {
		q += ` AND planner = ?`
		args = append(args, planner)
	}
	q += ` ORDER BY run_id, planner`
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PlanMetrics{}
	for rows.Next() {
		var pm model.PlanMetrics
		var js []byte
		var created int64
		if err := rows.Scan(&pm.Run, &pm.Planner, &pm.Solves, &js, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(js, &pm.Metrics); err != nil {
			return nil, err
		}
		pm.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, pm)
	}
	return out, rows.Err()
}
