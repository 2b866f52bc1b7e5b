package signaling

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// wsRecorder is a test relay endpoint that records every message it receives
// and can push messages to the connected client.
type wsRecorder struct {
	srv *httptest.Server

	mu       sync.Mutex
	received []Message
	conns    []*websocket.Conn
	paths    []string
}

func newWSRecorder(t *testing.T) *wsRecorder {
	t.Helper()
	rec := &wsRecorder{}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	rec.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rec.mu.Lock()
		rec.conns = append(rec.conns, conn)
		rec.paths = append(rec.paths, r.URL.Path)
		rec.mu.Unlock()

		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			rec.mu.Lock()
			rec.received = append(rec.received, msg)
			rec.mu.Unlock()
		}
	}))
	t.Cleanup(rec.srv.Close)
	return rec
}

func (r *wsRecorder) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *wsRecorder) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.received...)
}

func (r *wsRecorder) push(t *testing.T, msg Message) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		t.Fatal("no connection to push to")
	}
	if err := r.conns[len(r.conns)-1].WriteJSON(msg); err != nil {
		t.Fatalf("push failed: %v", err)
	}
}

func waitForMessages(t *testing.T, rec *wsRecorder, n int) []Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := rec.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, have %d", n, len(rec.messages()))
	return nil
}

func TestPreOpenQueueFlushedInOrder(t *testing.T) {
	rec := newWSRecorder(t)

	client, err := NewClient(rec.url(), 7)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	client.OnMessage(func(Message) {})
	defer client.Close()

	// Candidates generated before the dial completes must reach the peer in
	// generation order.
	for i := 1; i <= 5; i++ {
		msg := Message{
			Type:      MsgTypeCandidate,
			Candidate: &webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate-%d", i)},
			PeerID:    9,
		}
		if err := client.Send(msg); err != nil {
			t.Fatalf("pre-open Send %d failed: %v", i, err)
		}
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-client.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Ready never closed after Connect")
	}

	// A post-open send must land behind every queued message.
	if err := client.Send(Message{Type: MsgTypeEnd, PeerID: 9}); err != nil {
		t.Fatalf("post-open Send failed: %v", err)
	}

	msgs := waitForMessages(t, rec, 6)
	for i := 0; i < 5; i++ {
		want := fmt.Sprintf("candidate-%d", i+1)
		if msgs[i].Candidate == nil || msgs[i].Candidate.Candidate != want {
			t.Errorf("message %d = %+v, want candidate %q", i, msgs[i], want)
		}
	}
	if msgs[5].Type != MsgTypeEnd {
		t.Errorf("message 5 type = %s, want %s", msgs[5].Type, MsgTypeEnd)
	}
}

func TestConnectRegistersUnderUserID(t *testing.T) {
	rec := newWSRecorder(t)

	client, err := NewClient(rec.url(), 42)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	client.OnMessage(func(Message) {})
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.paths) != 1 || rec.paths[0] != "/ws/call/42/" {
		t.Errorf("connect paths = %v, want [/ws/call/42/]", rec.paths)
	}
}

func TestInboundMessagesReachHandler(t *testing.T) {
	rec := newWSRecorder(t)

	client, err := NewClient(rec.url(), 7)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	got := make(chan Message, 1)
	client.OnMessage(func(msg Message) { got <- msg })
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	rec.push(t, Message{Type: MsgTypeOffer, CallerID: 3, CallerName: "Alice"})

	select {
	case msg := <-got:
		if msg.Type != MsgTypeOffer || msg.CallerID != 3 || msg.CallerName != "Alice" {
			t.Errorf("handler received %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestCloseIsIdempotentAndSilent(t *testing.T) {
	rec := newWSRecorder(t)

	client, err := NewClient(rec.url(), 7)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	readErr := make(chan error, 1)
	client.OnMessage(func(Message) {})
	client.OnError(func(err error) { readErr <- err })

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done never closed after Close")
	}

	// A locally initiated shutdown is not a signaling error.
	select {
	case err := <-readErr:
		t.Errorf("OnError fired for local close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseBeforeConnect(t *testing.T) {
	client, err := NewClient("wss://relay.example.com", 7)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close before Connect failed: %v", err)
	}
}

func TestEndpoint(t *testing.T) {
	testCases := []struct {
		name    string
		in      string
		userID  int
		want    string
		wantErr bool
	}{
		{name: "wss URL", in: "wss://relay.example.com", userID: 1, want: "wss://relay.example.com/ws/call/1/"},
		{name: "ws URL", in: "ws://127.0.0.1:9000", userID: 42, want: "ws://127.0.0.1:9000/ws/call/42/"},
		{name: "https URL", in: "https://relay.example.com", userID: 1, want: "wss://relay.example.com/ws/call/1/"},
		{name: "http URL", in: "http://127.0.0.1:9000", userID: 1, want: "ws://127.0.0.1:9000/ws/call/1/"},
		{name: "bare host", in: "relay.example.com", userID: 5, want: "wss://relay.example.com/ws/call/5/"},
		{name: "surrounding whitespace", in: "  wss://relay.example.com  ", userID: 1, want: "wss://relay.example.com/ws/call/1/"},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "://", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Endpoint(tc.in, tc.userID)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Endpoint(%q) = %q, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Endpoint(%q) failed: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("Endpoint(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
