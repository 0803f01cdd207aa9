package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport driven by the test.
type fakeTransport struct {
	in     chan []byte
	writes chan any
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		writes: make(chan any, 16),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case frame := <-t.in:
		return frame, nil
	case <-t.closed:
		return nil, errors.New("transport closed")
	}
}

func (t *fakeTransport) WriteJSON(v any) error {
	select {
	case <-t.closed:
		return errors.New("transport closed")
	default:
	}
	t.writes <- v
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// fakeDialer hands out fakeTransports, optionally failing the first n dials.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	failFirst  int
	dials      int
}

func (d *fakeDialer) DialContext(ctx context.Context, urlStr string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failFirst {
		return nil, errors.New("dial refused")
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastTransport() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func testManager(d Dialer, onMessage func([]byte)) *Manager {
	return NewManager(Config{
		URL:            "ws://test/ws/chat/repository/1",
		Dialer:         d,
		ReconnectDelay: 20 * time.Millisecond,
		PingPeriod:     -1,
		OnMessage:      onMessage,
	})
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", m.State(), want)
}

func TestOpen_Connects(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d, nil)
	defer m.Close(true)

	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitForState(t, m, StateOpen)
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", d.dialCount())
	}
}

func TestOpen_NoDuplicateWhileOpen(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d, nil)
	defer m.Close(true)

	m.Open(context.Background())
	waitForState(t, m, StateOpen)
	// Re-opening an open manager must not build a second transport.
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", d.dialCount())
	}
}

func TestSend_WhileClosedRejected(t *testing.T) {
	m := testManager(&fakeDialer{}, nil)

	if err := m.Send("anything"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
}

func TestSend_WritesToTransport(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d, nil)
	defer m.Close(true)

	m.Open(context.Background())
	waitForState(t, m, StateOpen)

	if err := m.Send(map[string]string{"type": "chat_message"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case <-d.lastTransport().writes:
	case <-time.After(time.Second):
		t.Fatal("write never reached the transport")
	}
}

func TestOnMessage_DeliveredInOrder(t *testing.T) {
	d := &fakeDialer{}
	var mu sync.Mutex
	var frames []string
	m := testManager(d, func(frame []byte) {
		mu.Lock()
		frames = append(frames, string(frame))
		mu.Unlock()
	})
	defer m.Close(true)

	m.Open(context.Background())
	waitForState(t, m, StateOpen)

	tr := d.lastTransport()
	tr.in <- []byte("one")
	tr.in <- []byte("two")
	tr.in <- []byte("three")

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(frames)
		mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("frames received = %d, want 3", n)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if frames[0] != "one" || frames[1] != "two" || frames[2] != "three" {
		t.Errorf("frames = %v, want in-order delivery", frames)
	}
}

func TestUnexpectedDisconnect_Reconnects(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d, nil)
	defer m.Close(true)

	m.Open(context.Background())
	waitForState(t, m, StateOpen)

	// Kill the transport under the manager; the retry loop must build a
	// new one after the fixed delay.
	d.lastTransport().Close()
	waitForState(t, m, StateClosed)
	waitForState(t, m, StateOpen)

	if d.dialCount() != 2 {
		t.Errorf("dials = %d, want 2", d.dialCount())
	}
}

func TestDialFailure_RetriesUntilOpen(t *testing.T) {
	d := &fakeDialer{failFirst: 2}
	m := testManager(d, nil)
	defer m.Close(true)

	// First attempt fails; the fixed-interval loop keeps trying.
	m.Open(context.Background())
	waitForState(t, m, StateOpen)

	if d.dialCount() != 3 {
		t.Errorf("dials = %d, want 3", d.dialCount())
	}
}

func TestClose_DisablesReconnect(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d, nil)

	m.Open(context.Background())
	waitForState(t, m, StateOpen)

	if err := m.Close(true); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if m.State() != StateClosed {
		t.Errorf("state = %v, want closed", m.State())
	}

	// Wait past several reconnect intervals; no new transport may appear.
	time.Sleep(100 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 (reconnect must stay disabled)", d.dialCount())
	}
}

func TestClose_ThenReopen(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d, nil)
	defer m.Close(true)

	m.Open(context.Background())
	waitForState(t, m, StateOpen)
	m.Close(true)

	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	waitForState(t, m, StateOpen)
	if d.dialCount() != 2 {
		t.Errorf("dials = %d, want 2", d.dialCount())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosed:     "closed",
		State(99):       "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
