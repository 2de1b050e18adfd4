package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ambuplan/internal/config"
	"ambuplan/internal/metrics"
	"ambuplan/internal/model"
	"ambuplan/internal/opt"
	"ambuplan/internal/planner"
	"ambuplan/internal/sim"
	"ambuplan/internal/store"
)

// lineScenario: 0 - 1 - 2, vehicle at 0, severity-2 patient at 1, hospital at 2.
const lineScenario = `{
	"weights": [[0,1,-1],[1,0,1],[-1,1,0]],
	"vehicles": [{"id":1,"node":0}],
	"hospitals": [{"id":1,"node":2,"capacity":5}],
	"patients": [{"id":1,"node":1,"severity":2}]
}`

func newTestServer(t *testing.T, mut ...func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Config{Planner: "exact", Solver: planner.DefaultConfig()}
	cfg.Solver.Swarm.MaxIterations = 30
	cfg.Solver.Swarm.SwarmSize = 8
	for _, m := range mut {
		m(&cfg)
	}
	s := newServer(cfg, store.NewMemory(), NewBroker())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (%s)", v, err, rr.Body.String())
	}
	return v
}

func createRun(t *testing.T, h http.Handler, planner string) model.Run {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/runs", `{"planner":"`+planner+`","scenario":`+lineScenario+`}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create run: %d %s", rr.Code, rr.Body.String())
	}
	return decode[model.Run](t, rr)
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t).Routes()
	if rr := do(t, h, http.MethodGet, "/healthz", ""); rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/readyz", ""); rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/nope", ""); rr.Code != 404 {
		t.Fatalf("unknown path: got %d", rr.Code)
	}
}

func TestPlanExactLine(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodPost, "/v1/plan", `{"scenario":`+lineScenario+`}`)
	if rr.Code != 200 {
		t.Fatalf("plan: %d %s", rr.Code, rr.Body.String())
	}
	resp := decode[model.PlanResponse](t, rr)
	if resp.Planner != "exact" {
		t.Fatalf("planner = %s", resp.Planner)
	}
	if len(resp.Plan) != 1 || resp.Plan[0].Vehicle != 1 {
		t.Fatalf("plan = %+v", resp.Plan)
	}
	var got []string
	for _, a := range resp.Plan[0].Actions {
		got = append(got, a.Text)
	}
	want := []string{"move(A1 0 -> 1)", "pick(A1 P1 @ N1)", "move(A1 1 -> 2)", "drop(A1 P1 @ N2)"}
	if strings.Join(got, ";") != strings.Join(want, ";") {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	first := resp.Plan[0].Actions[0]
	if first.From == nil || first.To == nil || *first.From != 0 || *first.To != 1 {
		t.Fatalf("structured move = %+v", first)
	}
	if resp.Metrics.BestCost != 3 {
		t.Fatalf("bestCost = %v, want 3", resp.Metrics.BestCost)
	}
}

func TestPlanSwarmOverride(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodPost, "/v1/plan", `{"planner":"SWARM","seed":9,"maxIterations":5,"scenario":`+lineScenario+`}`)
	if rr.Code != 200 {
		t.Fatalf("plan: %d %s", rr.Code, rr.Body.String())
	}
	resp := decode[model.PlanResponse](t, rr)
	if resp.Planner != "swarm" || resp.Metrics.Iterations > 5 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestPlanRejectsBadInput(t *testing.T) {
	h := newTestServer(t).Routes()
	cases := []struct {
		name, body string
		code       int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"unknown planner", `{"planner":"greedy","scenario":` + lineScenario + `}`, http.StatusBadRequest},
		{"negative budget", `{"timeBudgetMs":-1,"scenario":` + lineScenario + `}`, http.StatusBadRequest},
		{"bad scenario", `{"scenario":{"weights":[[0,1]],"vehicles":[],"hospitals":[]}}`, http.StatusUnprocessableEntity},
	}
	for _, c := range cases {
		rr := do(t, h, http.MethodPost, "/v1/plan", c.body)
		if rr.Code != c.code {
			t.Errorf("%s: got %d want %d (%s)", c.name, rr.Code, c.code, rr.Body.String())
			continue
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Errorf("%s: content type %q", c.name, ct)
		}
	}
	if rr := do(t, h, http.MethodGet, "/v1/plan", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /v1/plan: %d", rr.Code)
	}
}

func TestRunLifecycle(t *testing.T) {
	h := newTestServer(t).Routes()
	run := createRun(t, h, "exact")
	if run.Status != model.RunCompleted || run.FinishedAt == nil {
		t.Fatalf("run = %+v", run)
	}
	want := sim.Metrics{Steps: 5, Actions: 5, Distance: 3, WaitingSteps: 1, Delivered: 1, Replans: 2}
	if run.Metrics != want {
		t.Fatalf("metrics = %+v, want %+v", run.Metrics, want)
	}

	rr := do(t, h, http.MethodGet, "/v1/runs/"+run.ID, "")
	if rr.Code != 200 || decode[model.Run](t, rr).ID != run.ID {
		t.Fatalf("get run: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodGet, "/v1/runs/missing", ""); rr.Code != 404 {
		t.Fatalf("missing run: %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/runs?planner=exact&limit=10", "")
	list := decode[model.RunList](t, rr)
	if len(list.Items) != 1 || list.Items[0].ID != run.ID {
		t.Fatalf("list = %+v", list)
	}
	if rr := do(t, h, http.MethodGet, "/v1/runs?limit=x", ""); rr.Code != 400 {
		t.Fatalf("bad limit: %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/runs/"+run.ID+"/events", "")
	events := decode[struct{ Items []sim.Event }](t, rr).Items
	if len(events) < 3 || events[0].Type != sim.EventReplanned || events[len(events)-1].Type != sim.EventFinished {
		t.Fatalf("events = %+v", events)
	}

	rr = do(t, h, http.MethodGet, "/v1/admin/plan-metrics?run="+run.ID, "")
	pms := decode[struct{ Items []model.PlanMetrics }](t, rr).Items
	if len(pms) != 1 || pms[0].Planner != "exact" || pms[0].Solves != 2 {
		t.Fatalf("plan metrics = %+v", pms)
	}
	if left := opt.GetMetrics(run.ID); len(left) != 0 {
		t.Fatalf("in-memory metrics kept after persisting: %+v", left)
	}
}

func TestRunWithArrivals(t *testing.T) {
	h := newTestServer(t).Routes()
	body := `{"planner":"swarm","arrivals":{"probability":0.5,"max":3,"seed":4},"scenario":` + lineScenario + `}`
	rr := do(t, h, http.MethodPost, "/v1/runs", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	run := decode[model.Run](t, rr)
	if run.Metrics.Spawned != 3 || run.Metrics.Delivered != 4 {
		t.Fatalf("metrics = %+v", run.Metrics)
	}
	rr = do(t, h, http.MethodPost, "/v1/runs", `{"arrivals":{"probability":2},"scenario":`+lineScenario+`}`)
	if rr.Code != 400 {
		t.Fatalf("bad arrivals: %d", rr.Code)
	}
}

func TestRunStepLimitFails(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodPost, "/v1/runs", `{"maxSteps":2,"scenario":`+lineScenario+`}`)
	run := decode[model.Run](t, rr)
	if run.Status != model.RunFailed || !strings.Contains(run.Error, "step limit") {
		t.Fatalf("run = %+v", run)
	}
}

func TestAsyncRun(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodPost, "/v1/runs?async=true", `{"scenario":`+lineScenario+`}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("async: %d %s", rr.Code, rr.Body.String())
	}
	run := decode[model.Run](t, rr)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got := decode[model.Run](t, do(t, h, http.MethodGet, "/v1/runs/"+run.ID, ""))
		if got.Status == model.RunCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("async run did not complete")
}

func TestRunStreamReplay(t *testing.T) {
	h := newTestServer(t).Routes()
	run := createRun(t, h, "exact")
	rr := do(t, h, http.MethodGet, "/v1/runs/"+run.ID+"/events/stream", "")
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	body := rr.Body.String()
	if !strings.HasPrefix(body, "event: replanned\n") || !strings.Contains(body, "event: finished\n") {
		t.Fatalf("stream body:\n%s", body)
	}
	if rr := do(t, h, http.MethodGet, "/v1/runs/missing/events/stream", ""); rr.Code != 404 {
		t.Fatalf("missing stream: %d", rr.Code)
	}
}

func TestRunStreamLive(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()
	run, err := s.Store.CreateRun(context.Background(), model.Run{Planner: "exact"})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/v1/runs/" + run.ID + "/events/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	rd := bufio.NewReader(resp.Body)
	readEvent := func() string {
		t.Helper()
		var typ string
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if line == "\n" {
				return typ
			}
			if strings.HasPrefix(line, "event: ") {
				typ = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
			}
		}
	}
	if typ := readEvent(); typ != "heartbeat" {
		t.Fatalf("first event %q", typ)
	}
	s.publish(run.ID, string(sim.EventAction), sim.Event{Type: sim.EventAction, Action: "move(A1 0 -> 1)"})
	s.publish(run.ID, string(sim.EventFinished), sim.Event{Type: sim.EventFinished})
	if typ := readEvent(); typ != "action" {
		t.Fatalf("second event %q", typ)
	}
	if typ := readEvent(); typ != "finished" {
		t.Fatalf("third event %q", typ)
	}
}

func TestRunWebSocketReplay(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()
	run := createRun(t, s.Routes(), "exact")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/runs/" + run.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	var types []string
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			break
		}
		types = append(types, msg.Type)
	}
	if len(types) < 3 || types[0] != "replanned" || types[len(types)-1] != "finished" {
		t.Fatalf("ws events = %v", types)
	}

	if _, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/runs/missing/ws", nil); err == nil || resp.StatusCode != 404 {
		t.Fatalf("missing run: err=%v", err)
	}
}

func TestPlannerConfigAndDebug(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodGet, "/v1/planner/config", "")
	cfg := decode[map[string]any](t, rr)
	if cfg["default"] != "exact" {
		t.Fatalf("config = %v", cfg)
	}
	rr = do(t, h, http.MethodGet, "/debug/info", "")
	info := decode[map[string]any](t, rr)
	if _, ok := info["build"]; !ok {
		t.Fatalf("debug = %v", info)
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.RateRPS, c.RateBurst = 0.001, 1 }).Routes()
	if rr := do(t, h, http.MethodGet, "/healthz", ""); rr.Code != 200 {
		t.Fatalf("first: %d", rr.Code)
	}
	rr := do(t, h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("second: %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.RegisterDefault()
	h := newTestServer(t).Routes()
	do(t, h, http.MethodPost, "/v1/plan", `{"scenario":`+lineScenario+`}`)
	rr := do(t, h, http.MethodGet, "/metrics", "")
	if rr.Code != 200 {
		t.Fatalf("metrics: %d", rr.Code)
	}
	for _, name := range []string{"http_requests_total", "planner_solves_total"} {
		if !bytes.Contains(rr.Body.Bytes(), []byte(name)) {
			t.Fatalf("metrics output lacks %s", name)
		}
	}
}
