package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shabbark/pocketpaw/pkg/protocol"
)

// Clients connecting and dropping while events stream must never crash the
// broadcast loop. A send on a closed client channel panics the process, so
// this churns disconnects against a hot event feed.
func TestWebSocket_DisconnectDuringBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.srv.forwardEvents(ctx)

	ts := httptest.NewServer(f.mux)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				f.srv.bus.Broadcast(protocol.EventTaskOutput, map[string]any{
					"task_id": "t", "content": "chunk",
				})
			}
		}
	}()

	for i := 0; i < 30; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conn.Close()
	}

	close(stop)
	wg.Wait()

	// Let the forwarder drain the tail of the feed after the last
	// disconnect; any late send on a closed channel would surface here.
	time.Sleep(50 * time.Millisecond)
}

func TestWebSocket_ReceivesEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.srv.forwardEvents(ctx)

	ts := httptest.NewServer(f.mux)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered before the handler returns, but give
	// the broadcast a few tries in case the dial races the registry.
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	got := make(chan []byte, 1)
	go func() {
		_, frame, err := conn.ReadMessage()
		if err == nil {
			got <- frame
		}
	}()

	for time.Now().Before(deadline) {
		f.srv.bus.Broadcast(protocol.EventActivityCreated, map[string]any{"message": "hello"})
		select {
		case frame := <-got:
			if !strings.Contains(string(frame), protocol.EventActivityCreated) {
				t.Errorf("frame = %s", frame)
			}
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("no event frame received")
}
