package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subscriber is an outbound transport handle — spec.md §3's "connect(),
// send-payload(timeout), close" capability set. A single documented
// interface instead of a duck-typed object, per the design note against
// duck-typed provider interfaces, generalized here to the hub's
// subscriber-transport seam.
type Subscriber interface {
	ID() string
	Send(payload []byte, timeout time.Duration) error
	Close() error
}

// WSSubscriber adapts a *websocket.Conn to Subscriber. gorilla/websocket
// forbids concurrent writers on one connection, so every send is
// serialized behind a mutex.
type WSSubscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSSubscriber(id string, conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{id: id, conn: conn}
}

func (s *WSSubscriber) ID() string { return s.id }

func (s *WSSubscriber) Send(payload []byte, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *WSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
