package lark

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestEventStreamDispatchAndPing(t *testing.T) {
	ev := receiveEvent(t, "text", `{"text":"hi"}`, nil)
	payload, _ := json.Marshal(ev)

	gotPong := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := r.Context()

		ping, _ := json.Marshal(wsFrame{Type: "ping"})
		if err := conn.Write(ctx, websocket.MessageText, ping); err != nil {
			t.Errorf("write ping: %v", err)
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("read pong: %v", err)
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "pong" {
			t.Errorf("reply = %s, want pong frame", data)
			return
		}
		close(gotPong)

		event, _ := json.Marshal(wsFrame{Type: "event", Payload: payload})
		if err := conn.Write(ctx, websocket.MessageText, event); err != nil {
			t.Errorf("write event: %v", err)
		}

		// Hold the connection open until the client goes away.
		_, _, _ = conn.Read(ctx)
	}))
	defer srv.Close()

	collector := newEventCollector()
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream := NewEventStream(endpoint, collector.handle, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- stream.Run(ctx) }()

	select {
	case <-gotPong:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pong")
	}
	collector.wait(t)

	if len(collector.events) != 1 || collector.events[0].Header.EventID != "evt_1" {
		t.Fatalf("events = %+v, want the dispatched event", collector.events)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestEventStreamResetsBackoffAfterConnect(t *testing.T) {
	// The server accepts and immediately drops the connection, so a
	// successful dial still ends in a read failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}))
	defer srv.Close()
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := NewEventStream(endpoint, func(context.Context, *Event) error { return nil }, discardLogger())

	attempt := 0
	realDial := stream.dial
	stream.dial = func(ctx context.Context, ep string) (*websocket.Conn, error) {
		attempt++
		switch attempt {
		case 3:
			return realDial(ctx, ep)
		case 5:
			cancel()
			return nil, errors.New("dial refused")
		default:
			return nil, errors.New("dial refused")
		}
	}

	var sleeps []time.Duration
	stream.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	if err := stream.Run(ctx); err != context.Canceled {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}

	// Two failed dials back off; the connected session at attempt three
	// resets the schedule for the failures that follow.
	want := []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleeps[%d] = %v, want %v", i, sleeps[i], want[i])
		}
	}
}
