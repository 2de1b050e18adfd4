package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"ambuplan/internal/metrics"
	"ambuplan/internal/model"
	"ambuplan/internal/opt"
	"ambuplan/internal/planner"
	"ambuplan/internal/sim"
	"ambuplan/internal/store"
	"ambuplan/internal/world"
)

// eventFailed closes a stream when a run aborts.
const eventFailed = "failed"

func (s *Server) plannerName(o model.SolverOptions) string {
	switch {
	case o.Planner != "":
		return strings.ToLower(o.Planner)
	case s.Config.Planner != "":
		return s.Config.Planner
	default:
		return "swarm"
	}
}

// plannerFor applies request overrides to the server's solver defaults.
func (s *Server) plannerFor(o model.SolverOptions, run string) (planner.Planner, error) {
	cfg := s.Config.Solver
	cfg.Run = run
	if o.Seed != nil {
		cfg.Seed = *o.Seed
	}
	if o.MaxIterations != nil {
		cfg.Swarm.MaxIterations = *o.MaxIterations
	}
	if o.SwarmSize > 0 {
		cfg.Swarm.SwarmSize = o.SwarmSize
	}
	if o.TimeBudgetMs > 0 {
		cfg.Swarm.TimeBudget = time.Duration(o.TimeBudgetMs) * time.Millisecond
	}
	return planner.New(s.plannerName(o), cfg)
}

// PlanHandler handles POST /v1/plan: one planning pass over a scenario.
func (s *Server) PlanHandler(w http.ResponseWriter, r *http.Request) {
	var req model.PlanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateSolverOptions(&req.SolverOptions); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	wld, err := req.Scenario.Build()
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid scenario", err.Error(), r.URL.Path)
		return
	}
	p, err := s.plannerFor(req.SolverOptions, "")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid planner", err.Error(), r.URL.Path)
		return
	}
	var (
		plan world.Plan
		m    opt.Metrics
	)
	if mp, ok := p.(planner.Metered); ok {
		plan, m, err = mp.SolveWithMetrics(r.Context(), wld)
	} else {
		plan, err = p.Solve(r.Context(), wld)
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Planning failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, model.PlanResponse{Planner: p.Name(), Plan: vehiclePlans(plan), Metrics: m})
}

func vehiclePlans(p world.Plan) []model.VehiclePlan {
	out := make([]model.VehiclePlan, 0, len(p))
	for _, id := range p.Vehicles() {
		vp := model.VehiclePlan{Vehicle: int(id), Actions: make([]model.PlannedAction, 0, len(p[id]))}
		for _, a := range p[id] {
			pa := model.PlannedAction{Kind: a.Kind.String(), Text: a.String()}
			switch a.Kind {
			case world.Move:
				from, to := a.From, a.To
				pa.From, pa.To = &from, &to
			case world.Pick, world.Drop:
				at := a.At
				pa.At, pa.Patient = &at, int(a.Patient)
			}
			vp.Actions = append(vp.Actions, pa)
		}
		out = append(out, vp)
	}
	return out
}

// CreateRunHandler handles POST /v1/runs. The simulation runs to completion
// before the response unless ?async=true, in which case it answers 202 and
// events can be followed on the run's stream endpoints.
func (s *Server) CreateRunHandler(w http.ResponseWriter, r *http.Request) {
	var req model.RunRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateRunRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	wld, err := req.Scenario.Build()
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid scenario", err.Error(), r.URL.Path)
		return
	}
	run, err := s.Store.CreateRun(r.Context(), model.Run{Name: req.Name, Planner: s.plannerName(req.SolverOptions)})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create run failed", err.Error(), r.URL.Path)
		return
	}
	p, err := s.plannerFor(req.SolverOptions, run.ID)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid planner", err.Error(), r.URL.Path)
		return
	}
	var sources sim.Sources
	if src := req.Scenario.Source(); src != nil {
		sources = append(sources, src)
	}
	if a := req.Arrivals; a != nil && a.Max > 0 {
		sources = append(sources, sim.NewRandomSource(wld.Graph(), a.Probability, a.Max, a.Seed))
	}
	runner := &sim.Runner{World: wld, Planner: p, MaxSteps: req.MaxSteps}
	if len(sources) > 0 {
		runner.Source = sources
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		select {
		case s.jobs <- struct{}{}:
		default:
			run.Status, run.Error = model.RunFailed, "too many runs in progress"
			_ = s.Store.UpdateRun(r.Context(), run)
			writeProblem(w, http.StatusServiceUnavailable, "Busy", run.Error, r.URL.Path)
			return
		}
		go func() {
			defer func() { <-s.jobs }()
			s.execute(s.bg, run, runner)
		}()
		writeJSON(w, http.StatusAccepted, run)
		return
	}
	run = s.execute(r.Context(), run, runner)
	writeJSON(w, http.StatusCreated, run)
}

// execute drives the simulation, persists the outcome, and only then
// publishes the terminal event so late subscribers always find the stored
// history.
func (s *Server) execute(ctx context.Context, run model.Run, runner *sim.Runner) model.Run {
	var events []sim.Event
	var finished *sim.Event
	runner.Observer = func(e sim.Event) {
		events = append(events, e)
		if e.Type == sim.EventFinished {
			finished = &e
			return
		}
		s.publish(run.ID, string(e.Type), e)
	}
	m, err := runner.Run(ctx)

	now := time.Now().UTC()
	run.Metrics, run.FinishedAt = m, &now
	run.Status, run.Error = model.RunCompleted, ""
	if err != nil {
		run.Status, run.Error = model.RunFailed, err.Error()
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.Store.AppendEvents(pctx, run.ID, events); err != nil {
		log.Printf("[RUN] %s: store events: %v", run.ID, err)
	}
	// the store keeps the run's planner metrics from here on
	for name, rec := range opt.PopMetrics(run.ID) {
		pm := model.PlanMetrics{Run: run.ID, Planner: name, Solves: rec.Solves, Metrics: rec.Metrics}
		if err := s.Store.SavePlanMetrics(pctx, pm); err != nil {
			log.Printf("[RUN] %s: store plan metrics: %v", run.ID, err)
		}
	}
	if err := s.Store.UpdateRun(pctx, run); err != nil {
		log.Printf("[RUN] %s: update: %v", run.ID, err)
	}
	metrics.RunsCompleted.WithLabelValues(run.Status).Inc()
	log.Printf("[RUN] %s %s: %s after %d steps, delivered=%d distance=%.2f",
		run.ID, run.Planner, run.Status, m.Steps, m.Delivered, m.Distance)

	if finished != nil {
		s.publish(run.ID, string(sim.EventFinished), *finished)
	} else {
		s.publish(run.ID, eventFailed, map[string]any{"error": run.Error, "metrics": m})
	}
	return run
}

func (s *Server) publish(runID, typ string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[RUN] %s: encode %s event: %v", runID, typ, err)
		return
	}
	s.Broker.Publish(runID, SSEEvent{Type: typ, Data: data})
	metrics.EventsPublished.WithLabelValues(typ).Inc()
}

// ListRunsHandler handles GET /v1/runs?planner=&cursor=&limit=
func (s *Server) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", err.Error(), r.URL.Path)
			return
		}
		limit = n
	}
	items, next, err := s.Store.ListRuns(r.Context(), q.Get("planner"), q.Get("cursor"), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List runs failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, model.RunList{Items: items, NextCursor: next})
}

func (s *Server) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeProblem(w, r, "Run not found", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// RunEventsHandler returns the stored event history of a run.
func (s *Server) RunEventsHandler(w http.ResponseWriter, r *http.Request) {
	events, err := s.Store.ListEvents(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeProblem(w, r, "Run not found", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func (s *Server) storeProblem(w http.ResponseWriter, r *http.Request, notFound string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, notFound, err.Error(), r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
}

// PlannerConfigHandler reports the solver defaults requests start from.
func (s *Server) PlannerConfigHandler(w http.ResponseWriter, r *http.Request) {
	c := s.Config.Solver
	writeJSON(w, http.StatusOK, map[string]any{
		"default":  s.plannerName(model.SolverOptions{}),
		"planners": planner.Names(),
		"seed":     c.Seed,
		"swarm": map[string]any{
			"size":            c.Swarm.SwarmSize,
			"maxIterations":   c.Swarm.MaxIterations,
			"stallIterations": c.Swarm.StallIterations,
			"inertia":         c.Swarm.Inertia,
			"cognitive":       c.Swarm.Cognitive,
			"social":          c.Swarm.Social,
			"timeBudgetMs":    c.Swarm.TimeBudget.Milliseconds(),
		},
		"coverage": map[string]any{
			"seedings": c.Coverage.Seedings,
			"rounds":   c.Coverage.Rounds,
		},
	})
}

// PlanMetricsHandler handles GET /v1/admin/plan-metrics?run=&planner=.
// Stored metrics win; the in-memory records cover runs not yet persisted and
// ad-hoc plans.
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	runID, name := r.URL.Query().Get("run"), r.URL.Query().Get("planner")
	items, err := s.Store.ListPlanMetrics(r.Context(), runID, name)
	if err != nil || len(items) == 0 {
		items = []model.PlanMetrics{}
		for _, rec := range opt.ListMetrics(name) {
			if runID != "" && rec.Run != runID {
				continue
			}
			items = append(items, model.PlanMetrics{Run: rec.Run, Planner: rec.Planner, Solves: rec.Solves, Metrics: rec.Metrics})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
