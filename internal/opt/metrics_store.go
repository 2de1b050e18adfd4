package opt

import (
	"sort"
	"sync"
)

type key struct {
	Run     string
	Planner string
}

// Record is one stored planner invocation summary.
type Record struct {
	Run     string  `json:"run"`
	Planner string  `json:"planner"`
	Metrics Metrics `json:"metrics"`
	Solves  int     `json:"solves"`
}

var (
	mu    sync.Mutex
	store = map[key]Record{}
)

// RecordMetrics keeps the latest metrics per (run, planner) and counts how
// many solves contributed. Ad-hoc plans use an empty run id.
func RecordMetrics(run, planner string, m Metrics) {
	mu.Lock()
	k := key{Run: run, Planner: planner}
	r := store[k]
	store[k] = Record{Run: run, Planner: planner, Metrics: m, Solves: r.Solves + 1}
	mu.Unlock()
}

// GetMetrics returns the records of a run keyed by planner name.
func GetMetrics(run string) map[string]Record {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]Record{}
	for k, v := range store {
		if k.Run == run {
			out[k.Planner] = v
		}
	}
	return out
}

// PopMetrics returns the records of a run like GetMetrics and forgets them.
func PopMetrics(run string) map[string]Record {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]Record{}
	for k, v := range store {
		if k.Run == run {
			out[k.Planner] = v
			delete(store, k)
		}
	}
	return out
}

// ListMetrics returns every record, optionally filtered by planner, ordered
// by run then planner.
func ListMetrics(planner string) []Record {
	mu.Lock()
	out := make([]Record, 0, len(store))
	for k, v := range store {
		if planner == "" || k.Planner == planner {
			out = append(out, v)
		}
	}
	mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Run != out[j].Run {
			return out[i].Run < out[j].Run
		}
		return out[i].Planner < out[j].Planner
	})
	return out
}
