// Package main runs a demo WebSocket client for run events: it starts an
// async run of a generated city and prints every event until the run ends.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/gorilla/websocket"

	"ambuplan/internal/model"
	"ambuplan/internal/scenario"
)

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	sc, err := scenario.Random(20, 3, 2, 6, 7)
	if err != nil {
		log.Fatal(err)
	}
	body, err := json.Marshal(model.RunRequest{
		Name:     "ws-demo",
		Scenario: *sc,
		Arrivals: &model.RandomArrivals{Probability: 0.2, Max: 5, Seed: 7},
	})
	if err != nil {
		log.Fatal(err)
	}
	resp, err := http.Post(base+"/v1/runs?async=true", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("create run: %s", resp.Status)
	}
	var run model.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		log.Fatal(err)
	}

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/runs/" + run.ID + "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	log.Printf("following run %s", run.ID)
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("run %s closed", run.ID)
				return
			}
			log.Fatal(err)
		}
		fmt.Printf("%-10s %s\n", msg.Type, msg.Data)
	}
}
