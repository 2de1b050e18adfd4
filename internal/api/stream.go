package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"ambuplan/internal/model"
	"ambuplan/internal/sim"
)

const (
	heartbeatEvery = 15 * time.Second
	wsPingEvery    = 20 * time.Second
	wsReadTimeout  = 60 * time.Second
)

func terminal(typ string) bool { return typ == string(sim.EventFinished) || typ == eventFailed }

// replay turns stored events into stream events.
func replay(events []sim.Event) []SSEEvent {
	out := make([]SSEEvent, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		out = append(out, SSEEvent{Type: string(e.Type), Data: data})
	}
	return out
}

func writeSSE(w http.ResponseWriter, evt SSEEvent) {
	fmt.Fprintf(w, "event: %s\n", evt.Type)
	fmt.Fprintf(w, "data: %s\n\n", evt.Data)
}

func heartbeat(runID string) SSEEvent {
	data, _ := json.Marshal(map[string]string{"runId": runID, "ts": time.Now().UTC().Format(time.RFC3339)})
	return SSEEvent{Type: "heartbeat", Data: data}
}

// RunStreamHandler handles GET /v1/runs/{id}/events/stream as server-sent
// events. Finished runs replay their stored history; running ones stream live
// until the terminal event.
func (s *Server) RunStreamHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	// subscribe before reading the status so the terminal event cannot slip
	// between the two
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		s.storeProblem(w, r, "Run not found", err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if run.Status != model.RunRunning {
		events, err := s.Store.ListEvents(r.Context(), id)
		if err != nil {
			s.storeProblem(w, r, "Run not found", err)
			return
		}
		for _, evt := range replay(events) {
			writeSSE(w, evt)
		}
		flusher.Flush()
		return
	}

	writeSSE(w, heartbeat(id))
	flusher.Flush()
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
			if terminal(evt.Type) {
				return
			}
		case <-ticker.C:
			writeSSE(w, heartbeat(id))
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RunWSHandler handles GET /v1/runs/{id}/ws: the same stream as the SSE
// endpoint, one JSON message per event, closed normally after the terminal
// event.
func (s *Server) RunWSHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.Store.GetRun(r.Context(), id); err != nil {
		s.storeProblem(w, r, "Run not found", err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	// the read loop handles control frames and notices the client leaving
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	bye := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		return
	}
	if run.Status != model.RunRunning {
		events, err := s.Store.ListEvents(r.Context(), id)
		if err != nil {
			return
		}
		for _, evt := range replay(events) {
			if err := conn.WriteJSON(wsMessage{Type: evt.Type, Data: evt.Data}); err != nil {
				return
			}
		}
		bye()
		return
	}

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsMessage{Type: evt.Type, Data: evt.Data}); err != nil {
				return
			}
			if terminal(evt.Type) {
				bye()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
