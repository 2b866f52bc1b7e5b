// Package relay is an in-process implementation of the signaling relay's
// routing contract, used by integration tests and local development. The
// production relay is an external service; this mirrors its observable
// behavior: connections register under a user id, every message is forwarded
// to all connections registered under the id in its routing field, and the
// relay stamps the sender's id onto forwarded offers.
package relay

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/swapit-app/calls/internal/signaling"
	"github.com/swapit-app/calls/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the in-process relay.
type Server struct {
	listener net.Listener

	mu    sync.Mutex
	conns map[int][]*client
}

type client struct {
	userID int
	conn   *websocket.Conn
	wmu    sync.Mutex
}

// NewServer creates an unstarted relay.
func NewServer() *Server {
	return &Server{conns: make(map[int][]*client)}
}

// Start begins listening on a random local port and returns the base URL
// (ws://127.0.0.1:port).
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/call/", s.handleWS)
	go func() {
		_ = http.Serve(listener, mux)
	}()

	return fmt.Sprintf("ws://%s", listener.Addr().String()), nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// Path shape: /ws/call/<id>/
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/call/"), "/")
	userID, err := strconv.Atoi(trimmed)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{userID: userID, conn: conn}
	s.mu.Lock()
	s.conns[userID] = append(s.conns[userID], c)
	s.mu.Unlock()

	go s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.unregister(c)
	for {
		var msg signaling.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		s.forward(c.userID, msg)
	}
}

// forward routes one message by its type's routing field. Offers are
// rewritten so the recipient sees who is calling.
func (s *Server) forward(senderID int, msg signaling.Message) {
	var target int
	switch msg.Type {
	case signaling.MsgTypeOffer:
		target = msg.RecipientID
		msg.RecipientID = 0
		msg.CallerID = senderID
	case signaling.MsgTypeAnswer:
		target = msg.CallerID
	case signaling.MsgTypeCandidate, signaling.MsgTypeEnd:
		target = msg.PeerID
	default:
		return
	}

	s.mu.Lock()
	targets := append([]*client(nil), s.conns[target]...)
	s.mu.Unlock()

	for _, c := range targets {
		c.wmu.Lock()
		err := c.conn.WriteJSON(msg)
		c.wmu.Unlock()
		if err != nil {
			util.LogDebug("relay write to user %d failed: %v", target, err)
		}
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	list := s.conns[c.userID]
	for i, other := range list {
		if other == c {
			s.conns[c.userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	c.conn.Close()
}

// Close shuts down the listener and every registered connection.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.conns {
		for _, c := range list {
			c.conn.Close()
		}
	}
	s.conns = make(map[int][]*client)
}
