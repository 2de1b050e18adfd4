package sim

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambuplan/internal/graph"
	"ambuplan/internal/planner"
	"ambuplan/internal/world"
)

func lineWorld(t *testing.T) *world.World {
	t.Helper()
	g, err := graph.New([][]float64{
		{0, 1, -1},
		{1, 0, 1},
		{-1, 1, 0},
	})
	require.NoError(t, err)
	w, err := world.New(g)
	require.NoError(t, err)
	require.NoError(t, w.AddVehicle(1, 0))
	require.NoError(t, w.AddHospital(1, 2, 5))
	require.NoError(t, w.AddPatient(1, 1, 2))
	return w
}

func cfg() planner.Config {
	c := planner.DefaultConfig()
	c.Swarm.MaxIterations = 20
	c.Swarm.SwarmSize = 8
	return c
}

func TestRunExactLine(t *testing.T) {
	w := lineWorld(t)
	var events []Event
	r := &Runner{World: w, Planner: planner.NewExact(cfg()), Observer: func(e Event) { events = append(events, e) }}
	m, err := r.Run(context.Background())
	require.NoError(t, err)

	// Deliver in four steps, replan after the drop, reposition to the
	// centre node in one more.
	assert.Equal(t, Metrics{Steps: 5, Actions: 5, Distance: 3, WaitingSteps: 1, Delivered: 1, Replans: 2}, m)
	v, _ := w.Vehicle(1)
	assert.Equal(t, 1, v.Node)
	require.NotEmpty(t, events)
	assert.Equal(t, EventReplanned, events[0].Type)
	assert.Equal(t, EventFinished, events[len(events)-1].Type)
	assert.Equal(t, "move(A1 0 -> 1)", events[1].Action)
}

func TestRunSwarmLine(t *testing.T) {
	w := lineWorld(t)
	r := &Runner{World: w, Planner: planner.NewSwarm(cfg())}
	m, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Metrics{Steps: 4, Actions: 4, Distance: 2, WaitingSteps: 1, Delivered: 1, Replans: 1}, m)
}

func TestScriptedArrivalTriggersReplan(t *testing.T) {
	w := lineWorld(t)
	src := NewScriptedSource([]ScriptedArrival{{Step: 6, Arrival: Arrival{Node: 0, Severity: 1}}})
	r := &Runner{World: w, Planner: planner.NewSwarm(cfg()), Source: src}
	m, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.Spawned)
	assert.Equal(t, 2, m.Delivered)
	assert.Empty(t, w.WaitingPatients())
	assert.GreaterOrEqual(t, m.Replans, 2)
}

type badPlanner struct{}

func (badPlanner) Name() string          { return "bad" }
func (badPlanner) ReplanAfterDrop() bool { return false }
func (badPlanner) Solve(context.Context, *world.World) (world.Plan, error) {
	return world.Plan{1: {world.NewMove(1, 0, 2)}}, nil
}

func TestRejectedActionIsFatal(t *testing.T) {
	w := lineWorld(t)
	before := w.Clone()
	_, err := (&Runner{World: w, Planner: badPlanner{}}).Run(context.Background())
	assert.ErrorIs(t, err, world.ErrPrecondition)
	assert.True(t, before.Equal(w))
}

type shuttle struct{}

func (shuttle) Name() string          { return "shuttle" }
func (shuttle) ReplanAfterDrop() bool { return false }
func (shuttle) Solve(_ context.Context, w *world.World) (world.Plan, error) {
	var q []world.Action
	for i := 0; i < 50; i++ {
		q = append(q, world.NewMove(1, 0, 1), world.NewMove(1, 1, 0))
	}
	return world.Plan{1: q}, nil
}

func TestStepLimit(t *testing.T) {
	m, err := (&Runner{World: lineWorld(t), Planner: shuttle{}, MaxSteps: 7}).Run(context.Background())
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Equal(t, 7, m.Steps)
	assert.Equal(t, 7.0, m.Distance)
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Runner{World: lineWorld(t), Planner: shuttle{}}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRandomSource(t *testing.T) {
	g, err := graph.New([][]float64{
		{0, 1, 1},
		{1, 0, 1},
		{1, 1, 0},
	}, graph.WithDemands([]float64{0, 4, 0}))
	require.NoError(t, err)

	s := NewRandomSource(g, 0.5, 6, 3)
	got := 0
	for step := 0; step < 100; step++ {
		for _, a := range s.Next(step, false) {
			got++
			assert.Equal(t, 1, a.Node, "only node 1 carries demand")
			assert.GreaterOrEqual(t, a.Severity, 1)
			assert.LessOrEqual(t, a.Severity, 3)
		}
	}
	assert.Equal(t, 6, got)
	assert.Equal(t, 0, s.Remaining())

	always := NewRandomSource(g, 0, 2, 3)
	assert.Empty(t, always.Next(0, false), "zero probability with a busy plan")
	assert.Len(t, always.Next(1, true), 1, "an empty plan always spawns")

	a := NewRandomSource(g, 0.3, 50, 11)
	b := NewRandomSource(g, 0.3, 50, 11)
	for step := 0; step < 30; step++ {
		assert.Equal(t, a.Next(step, false), b.Next(step, false))
	}
}

func TestRunWithRandomArrivals(t *testing.T) {
	w := lineWorld(t)
	src := NewRandomSource(w.Graph(), 0.4, 5, 21)
	m, err := (&Runner{World: w, Planner: planner.NewExact(cfg()), Source: src}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, m.Spawned)
	assert.Equal(t, 6, m.Delivered)
	assert.Empty(t, w.WaitingPatients())
}

func TestEventsKeepZeroIDsAndNodes(t *testing.T) {
	g, err := graph.New([][]float64{
		{0, 1, -1},
		{1, 0, 1},
		{-1, 1, 0},
	})
	require.NoError(t, err)
	w, err := world.New(g)
	require.NoError(t, err)
	require.NoError(t, w.AddVehicle(0, 2))
	require.NoError(t, w.AddHospital(0, 0, 5))
	require.NoError(t, w.AddPatient(1, 1, 2))

	p, err := planner.New("exact", cfg())
	require.NoError(t, err)
	var events []Event
	_, err = (&Runner{World: w, Planner: p, Observer: func(e Event) { events = append(events, e) }}).Run(context.Background())
	require.NoError(t, err)

	var lines []string
	for _, e := range events {
		if e.Type != EventAction {
			continue
		}
		data, err := json.Marshal(e)
		require.NoError(t, err)
		lines = append(lines, string(data))
	}
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Contains(t, lines[2], `"vehicle":0`)
	assert.Contains(t, lines[2], `"node":0`)
	assert.Contains(t, lines[3], `"node":0`)
	assert.Contains(t, lines[3], `"patient":1`)

	var back Event
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &back))
	require.NotNil(t, back.Node)
	assert.Equal(t, 0, *back.Node)
	assert.Equal(t, 0, *back.Vehicle)
}
