package model

import (
	"time"

	"ambuplan/internal/opt"
	"ambuplan/internal/scenario"
	"ambuplan/internal/sim"
)

// Solver overrides accepted by the plan and run endpoints. Zero values keep
// the server defaults.
type SolverOptions struct {
	Planner       string `json:"planner,omitempty"`
	Seed          *int64 `json:"seed,omitempty"`
	MaxIterations *int   `json:"maxIterations,omitempty"`
	SwarmSize     int    `json:"swarmSize,omitempty"`
	TimeBudgetMs  int    `json:"timeBudgetMs,omitempty"`
}

type PlanRequest struct {
	SolverOptions
	Scenario scenario.Scenario `json:"scenario"`
}

type PlannedAction struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	From    *int   `json:"from,omitempty"`
	To      *int   `json:"to,omitempty"`
	At      *int   `json:"at,omitempty"`
	Patient int    `json:"patient,omitempty"`
}

type VehiclePlan struct {
	Vehicle int             `json:"vehicle"`
	Actions []PlannedAction `json:"actions"`
}

type PlanResponse struct {
	Planner string        `json:"planner"`
	Plan    []VehiclePlan `json:"plan"`
	Metrics opt.Metrics   `json:"metrics"`
}

// RandomArrivals configures the random patient source of a run.
type RandomArrivals struct {
	Probability float64 `json:"probability"`
	Max         int     `json:"max"`
	Seed        int64   `json:"seed,omitempty"`
}

type RunRequest struct {
	SolverOptions
	Name     string            `json:"name,omitempty"`
	Scenario scenario.Scenario `json:"scenario"`
	Arrivals *RandomArrivals   `json:"arrivals,omitempty"`
	MaxSteps int               `json:"maxSteps,omitempty"`
}

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

type Run struct {
	ID         string      `json:"id"`
	Name       string      `json:"name,omitempty"`
	Planner    string      `json:"planner"`
	Status     string      `json:"status"`
	Error      string      `json:"error,omitempty"`
	Metrics    sim.Metrics `json:"metrics"`
	CreatedAt  time.Time   `json:"createdAt"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
}

// PlanMetrics is the persisted search summary of one planner within a run.
type PlanMetrics struct {
	Run       string      `json:"run"`
	Planner   string      `json:"planner"`
	Solves    int         `json:"solves"`
	Metrics   opt.Metrics `json:"metrics"`
	CreatedAt time.Time   `json:"createdAt"`
}

type RunList struct {
	Items      []Run  `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}
