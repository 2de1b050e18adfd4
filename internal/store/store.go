package store

import (
	"context"
	"errors"

	"ambuplan/internal/model"
	"ambuplan/internal/sim"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Runs. CreateRun assigns ID and CreatedAt when they are empty. Ids are
	// time-ordered so ListRuns pages by id.
	CreateRun(ctx context.Context, run model.Run) (model.Run, error)
	UpdateRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, error)
	ListRuns(ctx context.Context, planner, cursor string, limit int) ([]model.Run, string, error)

	// Events of a run in emission order.
	AppendEvents(ctx context.Context, runID string, events []sim.Event) error
	ListEvents(ctx context.Context, runID string) ([]sim.Event, error)

	// Planner metrics, one row per (run, planner).
	SavePlanMetrics(ctx context.Context, pm model.PlanMetrics) error
	ListPlanMetrics(ctx context.Context, runID, planner string) ([]model.PlanMetrics, error)

	Ping(ctx context.Context) error
	Close() error
}

var ErrNotFound = errors.New("not found")

const (
	defaultLimit = 100
	maxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxLimit {
		return defaultLimit
	}
	return limit
}
