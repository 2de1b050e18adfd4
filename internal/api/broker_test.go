package api

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	rid := "r1"
	ch := b.Subscribe(rid)

	evt := SSEEvent{Type: "action", Data: json.RawMessage(`{"x":1}`)}
	b.Publish(rid, evt)
	b.Publish("other", SSEEvent{Type: "action"})

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if string(got.Data) != `{"x":1}` {
			t.Fatalf("bad payload: %s", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-ch:
		t.Fatalf("received event for another run: %+v", got)
	default:
	}

	b.Unsubscribe(rid, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// a second unsubscribe must not panic on the closed channel
	b.Unsubscribe(rid, ch)
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r")
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(ch)*2; i++ {
			b.Publish("r", SSEEvent{Type: "action"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered %d events, want %d", len(ch), cap(ch))
	}
}
