package world

import (
	"errors"
	"fmt"
)

// ErrPrecondition marks an action that is illegal in the current state.
// Planners must never emit one; callers treat it as a bug, not a retry.
var ErrPrecondition = errors.New("world: action precondition failed")

var ErrUnknownAction = errors.New("world: unknown action kind")

type ActionKind int

const (
	Move ActionKind = iota + 1
	Pick
	Drop
)

func (k ActionKind) String() string {
	switch k {
	case Move:
		return "move"
	case Pick:
		return "pick"
	case Drop:
		return "drop"
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// Action is one of Move, Pick or Drop. Move uses From/To; Pick and Drop use
// At/Patient.
type Action struct {
	Kind    ActionKind
	Vehicle VehicleID
	From    int
	To      int
	At      int
	Patient PatientID
}

func NewMove(v VehicleID, from, to int) Action {
	return Action{Kind: Move, Vehicle: v, From: from, To: to}
}

func NewPick(v VehicleID, at int, p PatientID) Action {
	return Action{Kind: Pick, Vehicle: v, At: at, Patient: p}
}

func NewDrop(v VehicleID, at int, p PatientID) Action {
	return Action{Kind: Drop, Vehicle: v, At: at, Patient: p}
}

func (a Action) String() string {
	switch a.Kind {
	case Move:
		return fmt.Sprintf("move(A%d %d -> %d)", a.Vehicle, a.From, a.To)
	case Pick:
		return fmt.Sprintf("pick(A%d P%d @ N%d)", a.Vehicle, a.Patient, a.At)
	case Drop:
		return fmt.Sprintf("drop(A%d P%d @ N%d)", a.Vehicle, a.Patient, a.At)
	}
	return a.Kind.String()
}

// Result describes an applied action. Distance is the shortest-path distance
// of the traversed edge for Move and zero otherwise.
type Result struct {
	Action   Action
	Distance float64
}

func violation(a Action, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrPrecondition, a, fmt.Sprintf(format, args...))
}

// Check validates a against the current state without mutating anything.
func (w *World) Check(a Action) error {
	v, ok := w.vehicles[a.Vehicle]
	if !ok {
		return violation(a, "unknown vehicle")
	}
	switch a.Kind {
	case Move:
		if v.Node != a.From {
			return violation(a, "vehicle is at node %d", v.Node)
		}
		if !w.g.Adjacent(a.From, a.To) {
			return violation(a, "no edge %d -> %d", a.From, a.To)
		}
		return nil
	case Pick:
		p, ok := w.patients[a.Patient]
		if !ok {
			return violation(a, "unknown patient")
		}
		if !p.Waiting() || p.Node != a.At {
			return violation(a, "patient is %s at node %d", p.State, p.Node)
		}
		if v.Node != a.At {
			return violation(a, "vehicle is at node %d", v.Node)
		}
		if !v.Free() {
			return violation(a, "vehicle already carries P%d", v.Patient)
		}
		return nil
	case Drop:
		if v.Node != a.At {
			return violation(a, "vehicle is at node %d", v.Node)
		}
		if !v.Loaded || v.Patient != a.Patient {
			return violation(a, "vehicle does not carry P%d", a.Patient)
		}
		if !w.HospitalAt(a.At) {
			return violation(a, "no hospital at node %d", a.At)
		}
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnknownAction, int(a.Kind))
}

// Apply checks a and, only if it is legal, applies all of its effects.
func (w *World) Apply(a Action) (Result, error) {
	if err := w.Check(a); err != nil {
		return Result{}, err
	}
	res := Result{Action: a}
	v := w.vehicles[a.Vehicle]
	switch a.Kind {
	case Move:
		w.removeOccupant(a.From, Occupant{OccVehicle, int(v.ID)})
		w.occupants[a.To] = append(w.occupants[a.To], Occupant{OccVehicle, int(v.ID)})
		v.Node = a.To
		res.Distance = w.g.Distance(a.From, a.To)
	case Pick:
		p := w.patients[a.Patient]
		w.removeOccupant(a.At, Occupant{OccPatient, int(p.ID)})
		v.Loaded, v.Patient, v.Clean = true, p.ID, false
		p.State, p.Vehicle = InTransit, v.ID
		w.patients[p.ID] = p
	case Drop:
		p := w.patients[a.Patient]
		v.Loaded, v.Patient = false, 0
		p.State, p.Node = Delivered, a.At
		w.patients[p.ID] = p
	}
	w.vehicles[v.ID] = v
	return res, nil
}
