// Package session manages the WebSocket connection to the notebook
// authority: connecting, the read/write pumps, reconnect with edit replay,
// and a status stream for the UI.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nbsync/nbclient/internal/protocol"
)

// Status is the connection lifecycle state exposed to subscribers.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendQueueSize = 256
)

var (
	// ErrSendQueueFull is returned when the outbound queue is saturated.
	ErrSendQueueFull = errors.New("send queue is full")
	// ErrNotConnected is returned when sending without an open connection.
	ErrNotConnected = errors.New("session is not connected")
)

// Handler consumes inbound authority messages.
type Handler func(msg *protocol.Message)

// PendingProvider returns the unacknowledged edits to replay after a
// connection is (re)established, in local-version order.
type PendingProvider func() []*protocol.Message

// Session is the client side of one WebSocket connection. Safe for
// concurrent use.
type Session struct {
	url     string
	handler Handler
	pending PendingProvider

	mu          sync.Mutex
	ws          *websocket.Conn
	send        chan []byte
	dialing     bool
	status      Status
	subscribers []chan Status
}

// Option configures a Session.
type Option func(*Session)

// WithHandler sets the inbound message handler.
func WithHandler(h Handler) Option {
	return func(s *Session) { s.handler = h }
}

// WithPendingProvider sets the replay source consulted on every connect.
func WithPendingProvider(p PendingProvider) Option {
	return func(s *Session) { s.pending = p }
}

// New creates a session for the given WebSocket URL. No connection is made
// until Connect.
func New(url string, opts ...Option) *Session {
	s := &Session{
		url:    url,
		status: StatusDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe returns a channel carrying status transitions. Slow subscribers
// miss intermediate transitions rather than blocking the session.
func (s *Session) Subscribe() <-chan Status {
	ch := make(chan Status, 8)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	ch <- s.status
	s.mu.Unlock()
	return ch
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	subs := make([]chan Status, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- status:
		default:
		}
	}
}

// Connect dials the authority, starts the pumps, requests kernel status and
// replays any pending edits. Calling Connect on an open session, or while
// another Connect is dialing, is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.ws != nil || s.dialing {
		s.mu.Unlock()
		return nil
	}
	s.dialing = true
	s.mu.Unlock()

	s.setStatus(StatusConnecting)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.mu.Lock()
		s.dialing = false
		s.mu.Unlock()
		s.setStatus(StatusDisconnected)
		return err
	}

	s.mu.Lock()
	s.dialing = false
	s.ws = ws
	s.send = make(chan []byte, sendQueueSize)
	s.mu.Unlock()

	go s.writePump(ws, s.send)
	go s.readPump(ws)

	s.setStatus(StatusConnected)

	// Status first so the UI reflects the kernel before any edit lands.
	if err := s.Send(protocol.New(protocol.TypeKernelStatus, nil)); err != nil {
		log.Printf("kernel status request failed: %v", err)
	}
	s.replayPending()

	return nil
}

// replayPending re-sends the unacknowledged edits in order.
func (s *Session) replayPending() {
	if s.pending == nil {
		return
	}
	for _, msg := range s.pending() {
		if err := s.Send(msg); err != nil {
			log.Printf("replay of %s failed: %v", msg.Type, err)
			return
		}
	}
}

// Send encodes and queues one outbound message.
func (s *Session) Send(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ws == nil {
		return ErrNotConnected
	}

	select {
	case s.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Reconnect tears down the current connection, if any, and dials again.
// Pending edits are replayed as part of the new connect.
func (s *Session) Reconnect(ctx context.Context) error {
	s.closeConn()
	return s.Connect(ctx)
}

// Close shuts the connection down for good.
func (s *Session) Close() error {
	s.closeConn()
	return nil
}

func (s *Session) closeConn() {
	s.mu.Lock()
	ws := s.ws
	send := s.send
	s.ws = nil
	s.send = nil
	s.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	if send != nil {
		close(send)
	}
	s.setStatus(StatusDisconnected)
}

// readPump pumps inbound frames to the handler until the connection dies.
func (s *Session) readPump(ws *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		current := s.ws == ws
		s.mu.Unlock()
		if current {
			s.closeConn()
		}
	}()

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("read failed: %v", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("dropping undecodable message: %v", err)
			continue
		}

		if s.handler != nil {
			s.handler(msg)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (s *Session) writePump(ws *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case data, ok := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
