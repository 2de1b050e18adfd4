// Package world is the mutable registry of who is where on the city graph.
//
// Entities live in an arena keyed by typed ids; nodes hold ordered occupant
// references. The only runtime mutations are Spawn and the three actions
// applied through Apply.
package world

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"ambuplan/internal/graph"
)

var (
	ErrDuplicateID     = errors.New("world: duplicate id")
	ErrUnknownEntity   = errors.New("world: unknown entity")
	ErrNodeRange       = errors.New("world: node out of range")
	ErrInvalidSeverity = errors.New("world: severity must be >= 1")
	ErrNoGraph         = errors.New("world: nil graph")
)

type (
	VehicleID  int
	PatientID  int
	HospitalID int
)

type PatientState int

const (
	Waiting PatientState = iota
	InTransit
	Delivered
)

func (s PatientState) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case InTransit:
		return "in_transit"
	case Delivered:
		return "delivered"
	}
	return fmt.Sprintf("PatientState(%d)", int(s))
}

// Vehicle carries at most one patient. Clean is informational only.
type Vehicle struct {
	ID      VehicleID
	Node    int
	Loaded  bool
	Patient PatientID // meaningful only when Loaded
	Clean   bool
}

func (v Vehicle) Free() bool { return !v.Loaded }

// Patient severity: 1 is the least urgent.
type Patient struct {
	ID       PatientID
	Node     int // last known node; stale once in transit
	Severity int
	State    PatientState
	Vehicle  VehicleID // carrier while in transit and after delivery
}

func (p Patient) Waiting() bool { return p.State == Waiting }

type Hospital struct {
	ID       HospitalID
	Node     int
	Capacity int // nominal, not enforced
}

type OccupantKind int

const (
	OccVehicle OccupantKind = iota + 1
	OccPatient
	OccHospital
)

type Occupant struct {
	Kind OccupantKind
	ID   int
}

// World is not safe for concurrent mutation; the driver is its only writer.
type World struct {
	g         *graph.Graph
	vehicles  map[VehicleID]Vehicle
	patients  map[PatientID]Patient
	hospitals map[HospitalID]Hospital
	occupants [][]Occupant

	vehicleIDs  IDAllocator
	patientIDs  IDAllocator
	hospitalIDs IDAllocator
}

func New(g *graph.Graph) (*World, error) {
	if g == nil {
		return nil, ErrNoGraph
	}
	return &World{
		g:         g,
		vehicles:  map[VehicleID]Vehicle{},
		patients:  map[PatientID]Patient{},
		hospitals: map[HospitalID]Hospital{},
		occupants: make([][]Occupant, g.Len()),
	}, nil
}

func (w *World) Graph() *graph.Graph { return w.g }

func (w *World) checkNode(n int) error {
	if !w.g.Valid(n) {
		return fmt.Errorf("%w: %d (graph has %d nodes)", ErrNodeRange, n, w.g.Len())
	}
	return nil
}

// AddVehicle places a free, clean vehicle with a caller-supplied id.
func (w *World) AddVehicle(id VehicleID, node int) error {
	if err := w.checkNode(node); err != nil {
		return err
	}
	if _, ok := w.vehicles[id]; ok {
		return fmt.Errorf("%w: vehicle %d", ErrDuplicateID, id)
	}
	w.vehicles[id] = Vehicle{ID: id, Node: node, Clean: true}
	w.vehicleIDs.Observe(int(id))
	w.occupants[node] = append(w.occupants[node], Occupant{OccVehicle, int(id)})
	return nil
}

func (w *World) AddHospital(id HospitalID, node, capacity int) error {
	if err := w.checkNode(node); err != nil {
		return err
	}
	if _, ok := w.hospitals[id]; ok {
		return fmt.Errorf("%w: hospital %d", ErrDuplicateID, id)
	}
	w.hospitals[id] = Hospital{ID: id, Node: node, Capacity: capacity}
	w.hospitalIDs.Observe(int(id))
	w.occupants[node] = append(w.occupants[node], Occupant{OccHospital, int(id)})
	return nil
}

// AddPatient registers a waiting patient with a caller-supplied id.
func (w *World) AddPatient(id PatientID, node, severity int) error {
	if err := w.checkNode(node); err != nil {
		return err
	}
	if severity < 1 {
		return fmt.Errorf("%w: patient %d severity %d", ErrInvalidSeverity, id, severity)
	}
	if _, ok := w.patients[id]; ok {
		return fmt.Errorf("%w: patient %d", ErrDuplicateID, id)
	}
	w.patients[id] = Patient{ID: id, Node: node, Severity: severity, State: Waiting}
	w.patientIDs.Observe(int(id))
	w.occupants[node] = append(w.occupants[node], Occupant{OccPatient, int(id)})
	return nil
}

// PlaceOnboard puts a waiting patient inside a free vehicle at construction
// time, without an action. The patient need not share the vehicle's node.
func (w *World) PlaceOnboard(vid VehicleID, pid PatientID) error {
	v, ok := w.vehicles[vid]
	if !ok {
		return fmt.Errorf("%w: vehicle %d", ErrUnknownEntity, vid)
	}
	p, ok := w.patients[pid]
	if !ok {
		return fmt.Errorf("%w: patient %d", ErrUnknownEntity, pid)
	}
	if !v.Free() || !p.Waiting() {
		return fmt.Errorf("%w: vehicle %d cannot take patient %d onboard", ErrPrecondition, vid, pid)
	}
	w.removeOccupant(p.Node, Occupant{OccPatient, int(pid)})
	v.Loaded, v.Patient, v.Clean = true, pid, false
	p.State, p.Vehicle, p.Node = InTransit, vid, v.Node
	w.vehicles[vid] = v
	w.patients[pid] = p
	return nil
}

// Spawn inserts a new waiting patient with the next free id.
func (w *World) Spawn(node, severity int) (PatientID, error) {
	if err := w.checkNode(node); err != nil {
		return 0, err
	}
	if severity < 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSeverity, severity)
	}
	id := PatientID(w.patientIDs.Next())
	if err := w.AddPatient(id, node, severity); err != nil {
		return 0, err
	}
	return id, nil
}

func (w *World) Vehicle(id VehicleID) (Vehicle, bool) {
	v, ok := w.vehicles[id]
	return v, ok
}

func (w *World) Patient(id PatientID) (Patient, bool) {
	p, ok := w.patients[id]
	return p, ok
}

func (w *World) Hospital(id HospitalID) (Hospital, bool) {
	h, ok := w.hospitals[id]
	return h, ok
}

// Vehicles returns every vehicle ordered by id.
func (w *World) Vehicles() []Vehicle {
	out := make([]Vehicle, 0, len(w.vehicles))
	for _, v := range w.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Patients returns every patient, delivered ones included, ordered by id.
func (w *World) Patients() []Patient {
	out := make([]Patient, 0, len(w.patients))
	for _, p := range w.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) WaitingPatients() []Patient {
	var out []Patient
	for _, p := range w.Patients() {
		if p.Waiting() {
			out = append(out, p)
		}
	}
	return out
}

func (w *World) Hospitals() []Hospital {
	out := make([]Hospital, 0, len(w.hospitals))
	for _, h := range w.hospitals {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Occupants returns a copy of the ordered occupant list of node n.
func (w *World) Occupants(n int) []Occupant {
	if !w.g.Valid(n) {
		return nil
	}
	return append([]Occupant(nil), w.occupants[n]...)
}

// HospitalAt reports whether any hospital occupies node n.
func (w *World) HospitalAt(n int) bool {
	if !w.g.Valid(n) {
		return false
	}
	for _, o := range w.occupants[n] {
		if o.Kind == OccHospital {
			return true
		}
	}
	return false
}

// NearestHospital returns the reachable hospital closest to node. Equal
// distances keep the lower hospital id; ok is false when none is reachable.
func (w *World) NearestHospital(node int) (h Hospital, dist float64, ok bool) {
	dist = math.Inf(1)
	for _, cand := range w.Hospitals() {
		if d := w.g.Distance(node, cand.Node); d < dist {
			h, dist, ok = cand, d, true
		}
	}
	return h, dist, ok
}

func (w *World) removeOccupant(n int, o Occupant) {
	occ := w.occupants[n]
	for i := range occ {
		if occ[i] == o {
			w.occupants[n] = append(occ[:i:i], occ[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy sharing the immutable graph.
func (w *World) Clone() *World {
	c := &World{
		g:           w.g,
		vehicles:    make(map[VehicleID]Vehicle, len(w.vehicles)),
		patients:    make(map[PatientID]Patient, len(w.patients)),
		hospitals:   make(map[HospitalID]Hospital, len(w.hospitals)),
		occupants:   make([][]Occupant, len(w.occupants)),
		vehicleIDs:  w.vehicleIDs,
		patientIDs:  w.patientIDs,
		hospitalIDs: w.hospitalIDs,
	}
	for k, v := range w.vehicles {
		c.vehicles[k] = v
	}
	for k, v := range w.patients {
		c.patients[k] = v
	}
	for k, v := range w.hospitals {
		c.hospitals[k] = v
	}
	for i, occ := range w.occupants {
		c.occupants[i] = append([]Occupant(nil), occ...)
	}
	return c
}

// Equal compares entity state and occupancy; the graphs must be the same
// instance.
func (w *World) Equal(o *World) bool {
	if w.g != o.g || len(w.vehicles) != len(o.vehicles) || len(w.patients) != len(o.patients) ||
		len(w.hospitals) != len(o.hospitals) || w.patientIDs != o.patientIDs {
		return false
	}
	for k, v := range w.vehicles {
		if o.vehicles[k] != v {
			return false
		}
	}
	for k, p := range w.patients {
		if o.patients[k] != p {
			return false
		}
	}
	for k, h := range w.hospitals {
		if o.hospitals[k] != h {
			return false
		}
	}
	for n := range w.occupants {
		a, b := w.occupants[n], o.occupants[n]
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

// IDAllocator hands out increasing ids, always past any id it has observed.
type IDAllocator struct {
	next int
}

func (a *IDAllocator) Observe(id int) {
	if id >= a.next {
		a.next = id + 1
	}
}

func (a *IDAllocator) Next() int {
	id := a.next
	a.next++
	return id
}
