package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PlannerSolves counts planner invocations by planner and outcome
	PlannerSolves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "planner_solves_total", Help: "Planner invocations by planner and outcome."},
		[]string{"planner", "outcome"},
	)
	// PlannerDuration tracks planner wall time in seconds
	PlannerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "planner_solve_duration_seconds", Help: "Planner solve duration in seconds.", Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5, 10}},
		[]string{"planner"},
	)
	// SwarmIterations records how many swarm iterations each solve ran
	SwarmIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "swarm_iterations", Help: "Particle swarm iterations per solve.", Buckets: []float64{0, 10, 25, 50, 100, 250, 500, 1000}},
	)

	// ActionsApplied counts simulated actions by kind
	ActionsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sim_actions_applied_total", Help: "Applied actions by kind."},
		[]string{"kind"},
	)
	DistanceTravelled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sim_distance_travelled_total", Help: "Shortest-path distance of applied moves."},
	)
	WaitingSteps = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sim_waiting_patient_steps_total", Help: "Sum over steps of waiting patients."},
	)
	PatientsSpawned = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sim_patients_spawned_total", Help: "Patients introduced at runtime."},
	)
	// RunsCompleted counts simulation runs by final status
	RunsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sim_runs_total", Help: "Simulation runs by status."},
		[]string{"status"},
	)

	// EventsPublished counts broker events by type
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "events_published_total", Help: "Run events published to the broker by type."},
		[]string{"type"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(PlannerSolves)
		Registry.MustRegister(PlannerDuration)
		Registry.MustRegister(SwarmIterations)
		Registry.MustRegister(ActionsApplied)
		Registry.MustRegister(DistanceTravelled)
		Registry.MustRegister(WaitingSteps)
		Registry.MustRegister(PatientsSpawned)
		Registry.MustRegister(RunsCompleted)
		Registry.MustRegister(EventsPublished)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
