// Package sim drives a world through a planner step by step.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log"

	"ambuplan/internal/metrics"
	"ambuplan/internal/planner"
	"ambuplan/internal/world"
)

const DefaultMaxSteps = 10000

var ErrStepLimit = errors.New("sim: step limit reached")

type EventType string

const (
	EventReplanned EventType = "replanned"
	EventAction    EventType = "action"
	EventSpawned   EventType = "spawned"
	EventFinished  EventType = "finished"
)

// Event is emitted to the Observer as the run progresses.
type Event struct {
	Type     EventType     `json:"type"`
	Step     int           `json:"step"`
	Planner  string        `json:"planner,omitempty"`
	Action   string        `json:"action,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Vehicle  *int          `json:"vehicle,omitempty"`
	Patient  *int          `json:"patient,omitempty"`
	Node     *int          `json:"node,omitempty"`
	Severity int           `json:"severity,omitempty"`
	Distance float64       `json:"distance,omitempty"`
	Queued   int           `json:"queued,omitempty"`
	Metrics  *Metrics      `json:"metrics,omitempty"`
	Plan     []PlannedStep `json:"plan,omitempty"`
}

// ids and nodes are pointers because 0 is a valid value for both
func ref(n int) *int { return &n }

// PlannedStep is one vehicle's queue in a replanned event.
type PlannedStep struct {
	Vehicle int      `json:"vehicle"`
	Actions []string `json:"actions"`
}

type Observer func(Event)

// Metrics are accumulated by the driver from action results.
type Metrics struct {
	Steps        int     `json:"steps"`
	Actions      int     `json:"actions"`
	Distance     float64 `json:"distance"`
	WaitingSteps int     `json:"waitingSteps"`
	Delivered    int     `json:"delivered"`
	Replans      int     `json:"replans"`
	Spawned      int     `json:"spawned"`
}

// Runner owns the world for the duration of Run; nothing else may mutate it.
type Runner struct {
	World    *world.World
	Planner  planner.Planner
	Source   PatientSource // optional
	MaxSteps int           // 0 means DefaultMaxSteps
	Observer Observer      // optional
}

func (r *Runner) emit(e Event) {
	if r.Observer != nil {
		r.Observer(e)
	}
}

// Run plans, then applies at most one head action per vehicle per step in
// vehicle id order until no replanning is pending, every queue is empty and
// the source has nothing scheduled. A rejected action aborts the run with an
// error wrapping world.ErrPrecondition.
func (r *Runner) Run(ctx context.Context) (Metrics, error) {
	var m Metrics
	if r.World == nil || r.Planner == nil {
		return m, errors.New("sim: runner needs a world and a planner")
	}
	maxSteps := r.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	w := r.World
	name := r.Planner.Name()

	var plan world.Plan
	replan := true
	for {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		if m.Steps >= maxSteps {
			log.Printf("[SIM] %s: stopping after %d steps with %d queued actions", name, m.Steps, plan.Len())
			return m, fmt.Errorf("%w: %d", ErrStepLimit, maxSteps)
		}
		step := m.Steps
		m.Steps++

		if replan {
			next, err := r.Planner.Solve(ctx, w)
			if err != nil {
				return m, fmt.Errorf("sim: step %d: %s planner: %w", step, name, err)
			}
			plan, replan = next, false
			m.Replans++
			r.emit(Event{Type: EventReplanned, Step: step, Planner: name, Queued: plan.Len(), Plan: describePlan(plan)})
		}

		for _, vid := range plan.Vehicles() {
			a, ok := plan.Pop(vid)
			if !ok {
				continue
			}
			res, err := w.Apply(a)
			if err != nil {
				return m, fmt.Errorf("sim: step %d: %w", step, err)
			}
			m.Actions++
			metrics.ActionsApplied.WithLabelValues(a.Kind.String()).Inc()
			ev := Event{Type: EventAction, Step: step, Action: a.String(), Kind: a.Kind.String(), Vehicle: ref(int(a.Vehicle))}
			switch a.Kind {
			case world.Move:
				m.Distance += res.Distance
				metrics.DistanceTravelled.Add(res.Distance)
				ev.Node, ev.Distance = ref(a.To), res.Distance
			case world.Pick:
				ev.Patient, ev.Node = ref(int(a.Patient)), ref(a.At)
			case world.Drop:
				ev.Patient, ev.Node = ref(int(a.Patient)), ref(a.At)
				m.Delivered++
				if r.Planner.ReplanAfterDrop() {
					replan = true
				}
			}
			r.emit(ev)
		}

		waiting := len(w.WaitingPatients())
		m.WaitingSteps += waiting
		metrics.WaitingSteps.Add(float64(waiting))

		if r.Source != nil {
			for _, arr := range r.Source.Next(step, plan.Empty()) {
				id, err := w.Spawn(arr.Node, arr.Severity)
				if err != nil {
					return m, fmt.Errorf("sim: step %d: spawn: %w", step, err)
				}
				m.Spawned++
				metrics.PatientsSpawned.Inc()
				replan = true
				r.emit(Event{Type: EventSpawned, Step: step, Patient: ref(int(id)), Node: ref(arr.Node), Severity: arr.Severity})
			}
		}

		if !replan && plan.Empty() && !r.pending(step) {
			break
		}
	}

	log.Printf("[SIM] %s: done in %d steps, distance=%.2f waiting=%d delivered=%d replans=%d",
		name, m.Steps, m.Distance, m.WaitingSteps, m.Delivered, m.Replans)
	final := m
	r.emit(Event{Type: EventFinished, Step: m.Steps, Planner: name, Metrics: &final})
	return m, nil
}

func (r *Runner) pending(step int) bool {
	p, ok := r.Source.(interface{ Pending(int) bool })
	return ok && p.Pending(step)
}

func describePlan(p world.Plan) []PlannedStep {
	out := make([]PlannedStep, 0, len(p))
	for _, id := range p.Vehicles() {
		acts := make([]string, 0, len(p[id]))
		for _, a := range p[id] {
			acts = append(acts, a.String())
		}
		out = append(out, PlannedStep{Vehicle: int(id), Actions: acts})
	}
	return out
}
