package world

import (
	"fmt"
	"sort"
	"strings"
)

// Plan maps each vehicle to its queue of pending actions.
type Plan map[VehicleID][]Action

// Pop removes and returns the head action of v's queue.
func (p Plan) Pop(v VehicleID) (Action, bool) {
	q := p[v]
	if len(q) == 0 {
		return Action{}, false
	}
	p[v] = q[1:]
	return q[0], true
}

// Empty reports whether no vehicle has a pending action.
func (p Plan) Empty() bool { return p.Len() == 0 }

// Len counts pending actions over all vehicles.
func (p Plan) Len() int {
	n := 0
	for _, q := range p {
		n += len(q)
	}
	return n
}

// Vehicles returns the planned vehicle ids in ascending order.
func (p Plan) Vehicles() []VehicleID {
	ids := make([]VehicleID, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (p Plan) String() string {
	var b strings.Builder
	for _, id := range p.Vehicles() {
		fmt.Fprintf(&b, "A%d:", id)
		for _, a := range p[id] {
			b.WriteString(" ")
			b.WriteString(a.String())
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Describe renders the entity listings used in the step log.
func (w *World) Describe() string {
	var b strings.Builder
	b.WriteString("vehicles:\n")
	for _, v := range w.Vehicles() {
		fmt.Fprintf(&b, "  A%d @ N%d", v.ID, v.Node)
		if v.Loaded {
			fmt.Fprintf(&b, " carrying P%d", v.Patient)
		}
		b.WriteString("\n")
	}
	b.WriteString("patients:\n")
	for _, p := range w.Patients() {
		fmt.Fprintf(&b, "  P%d severity=%d %s", p.ID, p.Severity, p.State)
		switch p.State {
		case Waiting:
			fmt.Fprintf(&b, " @ N%d", p.Node)
		case InTransit:
			fmt.Fprintf(&b, " in A%d", p.Vehicle)
		case Delivered:
			fmt.Fprintf(&b, " @ N%d by A%d", p.Node, p.Vehicle)
		}
		b.WriteString("\n")
	}
	b.WriteString("hospitals:\n")
	for _, h := range w.Hospitals() {
		fmt.Fprintf(&b, "  H%d @ N%d capacity=%d\n", h.ID, h.Node, h.Capacity)
	}
	return b.String()
}
