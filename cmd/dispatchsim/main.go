// Command dispatchsim runs a dispatch simulation from a scenario file or a
// generated city and prints the step log and final metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ambuplan/internal/config"
	"ambuplan/internal/planner"
	"ambuplan/internal/scenario"
	"ambuplan/internal/sim"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "", "scenario file (YAML or JSON)")
		plannerName  = flag.String("planner", "swarm", "planner: "+strings.Join(planner.Names(), "|"))
		configPath   = flag.String("config", "", "planner settings YAML")
		arrivalsProb = flag.Float64("arrivals-prob", 0, "per-step probability of a random patient while vehicles are busy")
		arrivalsMax  = flag.Int("arrivals-max", 0, "maximum random patients")
		seed         = flag.Int64("seed", 0, "seed for planner, generator and arrivals (0 keeps defaults)")
		maxSteps     = flag.Int("max-steps", sim.DefaultMaxSteps, "abort after this many steps")
		randomNodes  = flag.Int("random-nodes", 0, "generate a random city with this many nodes instead of loading -scenario")
		vehicles     = flag.Int("vehicles", 3, "vehicles in a generated city")
		hospitals    = flag.Int("hospitals", 2, "hospitals in a generated city")
		patients     = flag.Int("patients", 6, "initial patients in a generated city")
		jsonEvents   = flag.Bool("json", false, "print events as JSON lines")
		dump         = flag.String("dump", "", "write the generated scenario to this YAML file")
	)
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	sc, err := loadScenario(*scenarioPath, *randomNodes, *vehicles, *hospitals, *patients, *seed)
	if err != nil {
		log.Fatalf("scenario: %v", err)
	}
	if *dump != "" {
		out, err := sc.YAML()
		if err != nil {
			log.Fatalf("dump: %v", err)
		}
		if err := os.WriteFile(*dump, out, 0o644); err != nil {
			log.Fatalf("dump: %v", err)
		}
	}
	w, err := sc.Build()
	if err != nil {
		log.Fatalf("build world: %v", err)
	}

	cfg := planner.DefaultConfig()
	if *configPath != "" {
		if cfg, err = config.LoadPlanner(*configPath, cfg); err != nil {
			log.Fatalf("planner config: %v", err)
		}
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	p, err := planner.New(*plannerName, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	var sources sim.Sources
	if src := sc.Source(); src != nil {
		sources = append(sources, src)
	}
	if *arrivalsMax > 0 {
		sources = append(sources, sim.NewRandomSource(w.Graph(), *arrivalsProb, *arrivalsMax, *seed))
	}

	fmt.Println(w.Describe())
	runner := &sim.Runner{World: w, Planner: p, MaxSteps: *maxSteps, Observer: printer(*jsonEvents)}
	if len(sources) > 0 {
		runner.Source = sources
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	m, err := runner.Run(ctx)
	fmt.Println(w.Describe())
	fmt.Printf("steps=%d actions=%d distance=%.2f waiting=%d delivered=%d spawned=%d replans=%d\n",
		m.Steps, m.Actions, m.Distance, m.WaitingSteps, m.Delivered, m.Spawned, m.Replans)
	if err != nil {
		log.Fatalf("run: %v", err)
	}
}

func loadScenario(path string, nodes, vehicles, hospitals, patients int, seed int64) (*scenario.Scenario, error) {
	if nodes > 0 {
		return scenario.Random(nodes, vehicles, hospitals, patients, seed)
	}
	if path == "" {
		return nil, fmt.Errorf("one of -scenario or -random-nodes is required")
	}
	return scenario.Load(path)
}

func printer(asJSON bool) sim.Observer {
	enc := json.NewEncoder(os.Stdout)
	return func(e sim.Event) {
		if asJSON {
			_ = enc.Encode(e)
			return
		}
		switch e.Type {
		case sim.EventReplanned:
			fmt.Printf("[%4d] replanned by %s: %d actions\n", e.Step, e.Planner, e.Queued)
			for _, ps := range e.Plan {
				fmt.Printf("         A%d: %s\n", ps.Vehicle, strings.Join(ps.Actions, " "))
			}
		case sim.EventAction:
			fmt.Printf("[%4d] %s\n", e.Step, e.Action)
		case sim.EventSpawned:
			fmt.Printf("[%4d] new patient P%d (severity %d) @ N%d\n", e.Step, *e.Patient, e.Severity, *e.Node)
		}
	}
}
