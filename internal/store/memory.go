package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ambuplan/internal/model"
	"ambuplan/internal/sim"
)

// Memory is a simple in-memory store used when no database is configured.
type Memory struct {
	mu      sync.Mutex
	runs    map[string]model.Run
	events  map[string][]sim.Event
	metrics map[string]map[string]model.PlanMetrics // run -> planner -> metrics
}

func NewMemory() *Memory {
	return &Memory{
		runs:    map[string]model.Run{},
		events:  map[string][]sim.Event{},
		metrics: map[string]map[string]model.PlanMetrics{},
	}
}

// newRunID returns a time-ordered id.
func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func prepareRun(run model.Run) (model.Run, error) {
	if run.ID == "" {
		id, err := newRunID()
		if err != nil {
			return run, err
		}
		run.ID = id
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunRunning
	}
	return run, nil
}

func (m *Memory) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
	run, err := prepareRun(run)
	if err != nil {
		return run, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return run, fmt.Errorf("run %s already exists", run.ID)
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *Memory) UpdateRun(ctx context.Context, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	run.CreatedAt = old.CreatedAt
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return model.Run{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRuns(ctx context.Context, planner, cursor string, limit int) ([]model.Run, string, error) {
	limit = clampLimit(limit)
	m.mu.Lock()
	ids := make([]string, 0, len(m.runs))
	for id, r := range m.runs {
		if id > cursor && (planner == "" || r.Planner == planner) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := []model.Run{}
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		out = append(out, m.runs[id])
	}
	m.mu.Unlock()
	next := ""
	if len(out) == limit && len(ids) > limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) AppendEvents(ctx context.Context, runID string, events []sim.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return ErrNotFound
	}
	m.events[runID] = append(m.events[runID], events...)
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, runID string) ([]sim.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, ErrNotFound
	}
	return append([]sim.Event{}, m.events[runID]...), nil
}

func (m *Memory) SavePlanMetrics(ctx context.Context, pm model.PlanMetrics) error {
	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metrics[pm.Run] == nil {
		m.metrics[pm.Run] = map[string]model.PlanMetrics{}
	}
	m.metrics[pm.Run][pm.Planner] = pm
	return nil
}

func (m *Memory) ListPlanMetrics(ctx context.Context, runID, planner string) ([]model.PlanMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.PlanMetrics{}
	for run, byPlanner := range m.metrics {
		if runID != "" && run != runID {
			continue
		}
		for name, pm := range byPlanner {
			if planner == "" || name == planner {
				out = append(out, pm)
			}
		}
	}
	sortPlanMetrics(out)
	return out, nil
}

func sortPlanMetrics(out []model.PlanMetrics) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Run != out[j].Run {
			return out[i].Run < out[j].Run
		}
		return out[i].Planner < out[j].Planner
	})
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }
