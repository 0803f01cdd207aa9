package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSocketURL(t *testing.T) {
	got, err := SocketURL("http://localhost:8080", "/ws/chat/repository/42")
	if err != nil {
		t.Fatalf("SocketURL failed: %v", err)
	}
	if got != "ws://localhost:8080/ws/chat/repository/42" {
		t.Errorf("SocketURL = %q", got)
	}

	got, _ = SocketURL("https://chat.example.com", "/ws/chat/system/1")
	if !strings.HasPrefix(got, "wss://") {
		t.Errorf("https base should map to wss, got %q", got)
	}
}

func TestSocketURL_Invalid(t *testing.T) {
	if _, err := SocketURL("://bad", "/ws"); err == nil {
		t.Error("SocketURL should fail for an unparsable base URL")
	}
}

// TestWebSocketRoundTrip exercises the production dialer against a real
// upgrade server: the server sends one frame and echoes the first client
// envelope back.
func TestWebSocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"conversation_created","conversation_id":7}`))
		_, frame, err := c.ReadMessage()
		if err != nil {
			return
		}
		c.WriteMessage(websocket.TextMessage, frame)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var frames []string
	wsURL, err := SocketURL(srv.URL, "/")
	if err != nil {
		t.Fatalf("SocketURL failed: %v", err)
	}

	m := NewManager(Config{
		URL:        wsURL,
		PingPeriod: -1,
		OnMessage: func(frame []byte) {
			mu.Lock()
			frames = append(frames, string(frame))
			mu.Unlock()
		},
	})
	defer m.Close(true)

	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitForState(t, m, StateOpen)

	if err := m.Send(map[string]string{"type": "chat_message", "message": "hi"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(frames)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("frames received = %d, want 2", n)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(frames[0], "conversation_created") {
		t.Errorf("first frame = %q", frames[0])
	}
	if !strings.Contains(frames[1], "chat_message") {
		t.Errorf("echo frame = %q", frames[1])
	}
}
