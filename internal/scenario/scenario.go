// Package scenario reads and writes the map-construction documents that seed
// a world: weights, optional coordinates and demands, and the initial
// vehicles, hospitals and patients with their ids.
package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"ambuplan/internal/graph"
	"ambuplan/internal/sim"
	"ambuplan/internal/world"
)

var ErrInvalid = errors.New("scenario: invalid")

type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

type Vehicle struct {
	ID       int  `json:"id" yaml:"id"`
	Node     int  `json:"node" yaml:"node"`
	Carrying *int `json:"carrying,omitempty" yaml:"carrying,omitempty"` // patient id on board
}

type Hospital struct {
	ID       int `json:"id" yaml:"id"`
	Node     int `json:"node" yaml:"node"`
	Capacity int `json:"capacity,omitempty" yaml:"capacity,omitempty"`
}

type Patient struct {
	ID       int `json:"id" yaml:"id"`
	Node     int `json:"node" yaml:"node"`
	Severity int `json:"severity" yaml:"severity"`
}

type Scenario struct {
	Name        string                `json:"name,omitempty" yaml:"name,omitempty"`
	Weights     [][]float64           `json:"weights" yaml:"weights"`
	Coordinates []Point               `json:"coordinates,omitempty" yaml:"coordinates,omitempty"`
	Demands     []float64             `json:"demands,omitempty" yaml:"demands,omitempty"`
	Vehicles    []Vehicle             `json:"vehicles" yaml:"vehicles"`
	Hospitals   []Hospital            `json:"hospitals" yaml:"hospitals"`
	Patients    []Patient             `json:"patients,omitempty" yaml:"patients,omitempty"`
	Arrivals    []sim.ScriptedArrival `json:"arrivals,omitempty" yaml:"arrivals,omitempty"`
}

// Load reads a scenario file; .json files are decoded as JSON, everything
// else as YAML.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return Parse(data)
}

// Parse decodes YAML, or JSON when the document starts with '{'.
func Parse(data []byte) (*Scenario, error) {
	if t := bytes.TrimSpace(data); len(t) > 0 && t[0] == '{' {
		return ParseJSON(data)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("scenario: yaml: %w", err)
	}
	return &s, s.Validate()
}

func ParseJSON(data []byte) (*Scenario, error) {
	var s Scenario
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("scenario: json: %w", err)
	}
	return &s, s.Validate()
}

// YAML encodes the scenario.
func (s *Scenario) YAML() ([]byte, error) { return yaml.Marshal(s) }

// Validate checks structure and references without computing shortest paths.
// All problems are reported together.
func (s *Scenario) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	n := len(s.Weights)
	if n == 0 {
		bad("no weights")
	}
	for i, row := range s.Weights {
		if len(row) != n {
			bad("weights row %d has %d entries, want %d", i, len(row), n)
		}
	}
	if len(s.Coordinates) != 0 && len(s.Coordinates) != n {
		bad("%d coordinates for %d nodes", len(s.Coordinates), n)
	}
	if len(s.Demands) != 0 && len(s.Demands) != n {
		bad("%d demands for %d nodes", len(s.Demands), n)
	}
	node := func(kind string, id, v int) {
		if v < 0 || v >= n {
			bad("%s %d at node %d, want 0..%d", kind, id, v, n-1)
		}
	}

	vids := map[int]bool{}
	for _, v := range s.Vehicles {
		if vids[v.ID] {
			bad("duplicate vehicle id %d", v.ID)
		}
		vids[v.ID] = true
		node("vehicle", v.ID, v.Node)
	}
	hids := map[int]bool{}
	for _, h := range s.Hospitals {
		if hids[h.ID] {
			bad("duplicate hospital id %d", h.ID)
		}
		hids[h.ID] = true
		node("hospital", h.ID, h.Node)
	}
	pids := map[int]bool{}
	for _, p := range s.Patients {
		if pids[p.ID] {
			bad("duplicate patient id %d", p.ID)
		}
		pids[p.ID] = true
		node("patient", p.ID, p.Node)
		if p.Severity < 1 {
			bad("patient %d severity %d, want >= 1", p.ID, p.Severity)
		}
	}
	onboard := map[int]int{}
	for _, v := range s.Vehicles {
		if v.Carrying == nil {
			continue
		}
		if !pids[*v.Carrying] {
			bad("vehicle %d carries unknown patient %d", v.ID, *v.Carrying)
		}
		if other, ok := onboard[*v.Carrying]; ok {
			bad("patient %d carried by vehicles %d and %d", *v.Carrying, other, v.ID)
		}
		onboard[*v.Carrying] = v.ID
	}
	for i, a := range s.Arrivals {
		node("arrival", i, a.Node)
		if a.Step < 0 || a.Severity < 1 {
			bad("arrival %d: step %d severity %d", i, a.Step, a.Severity)
		}
	}
	return errors.Join(errs...)
}

// Graph builds the city graph.
func (s *Scenario) Graph() (*graph.Graph, error) {
	var opts []graph.Option
	if len(s.Coordinates) > 0 {
		c := make([]graph.Coord, len(s.Coordinates))
		for i, p := range s.Coordinates {
			c[i] = graph.Coord{X: p.X, Y: p.Y}
		}
		opts = append(opts, graph.WithCoordinates(c))
	}
	if len(s.Demands) > 0 {
		opts = append(opts, graph.WithDemands(s.Demands))
	}
	return graph.New(s.Weights, opts...)
}

// Build validates the scenario and constructs its world.
func (s *Scenario) Build() (*world.World, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	g, err := s.Graph()
	if err != nil {
		return nil, err
	}
	w, err := world.New(g)
	if err != nil {
		return nil, err
	}
	for _, h := range s.Hospitals {
		if err := w.AddHospital(world.HospitalID(h.ID), h.Node, h.Capacity); err != nil {
			return nil, err
		}
	}
	for _, v := range s.Vehicles {
		if err := w.AddVehicle(world.VehicleID(v.ID), v.Node); err != nil {
			return nil, err
		}
	}
	for _, p := range s.Patients {
		if err := w.AddPatient(world.PatientID(p.ID), p.Node, p.Severity); err != nil {
			return nil, err
		}
	}
	for _, v := range s.Vehicles {
		if v.Carrying != nil {
			if err := w.PlaceOnboard(world.VehicleID(v.ID), world.PatientID(*v.Carrying)); err != nil {
				return nil, err
			}
		}
	}
	return w, nil
}

// Source returns the scripted arrivals as a patient source, nil when there
// are none.
func (s *Scenario) Source() sim.PatientSource {
	if len(s.Arrivals) == 0 {
		return nil
	}
	return sim.NewScriptedSource(s.Arrivals)
}
