package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/socialverse/social-verse/apperrors"
	"github.com/socialverse/social-verse/models"
)

const (
	maxReconnectDelay = 30 * time.Second
	sendAckTimeout    = 10 * time.Second
)

type event struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// wireConn is the slice of *websocket.Conn the socket uses; tests
// substitute their own.
type wireConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

var _ wireConn = (*websocket.Conn)(nil)

type ackResult struct {
	OK        bool           `json:"ok"`
	Duplicate bool           `json:"duplicate"`
	Message   models.Message `json:"message"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Socket is the realtime channel. It owns one underlying websocket
// connection at a time and transparently redials with backoff, fetching
// a fresh token each attempt since socket tokens are short-lived.
type Socket struct {
	wsURL     string
	tokenFn   func() (string, error)
	nextAckID int64

	// writeMu serializes writes to conn so a slow write never holds mu,
	// which the read loop needs to dispatch acks.
	writeMu sync.Mutex

	mu        sync.Mutex
	conn      wireConn
	acks      map[string]chan ackResult
	onMessage func(models.Message)
	onUnread  func(int64)
	closed    bool
}

func connectSocket(baseURL string, tokenFn func() (string, error)) (*Socket, error) {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/api/v1/ws"
	s := &Socket{
		wsURL:   wsURL,
		tokenFn: tokenFn,
		acks:    make(map[string]chan ackResult),
	}
	conn, err := s.dial()
	if err != nil {
		return nil, err
	}
	s.conn = conn
	go s.readLoop(conn)
	return s, nil
}

func (s *Socket) dial() (*websocket.Conn, error) {
	token, err := s.tokenFn()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		return nil, apperrors.Unavailable("Socket handshake failed", err)
	}
	return conn, nil
}

// OnMessage registers the handler for incoming dm:message events.
func (s *Socket) OnMessage(fn func(models.Message)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnUnreadCount registers the handler for dm:unread-count events.
func (s *Socket) OnUnreadCount(fn func(int64)) {
	s.mu.Lock()
	s.onUnread = fn
	s.mu.Unlock()
}

func (s *Socket) readLoop(conn wireConn) {
	for {
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			s.failPendingAcks()
			if !s.reconnect(conn) {
				return
			}
			s.mu.Lock()
			conn = s.conn
			s.mu.Unlock()
			continue
		}
		s.dispatch(ev)
	}
}

func (s *Socket) dispatch(ev event) {
	switch ev.Event {
	case "dm:message":
		var msg models.Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			return
		}
		s.mu.Lock()
		fn := s.onMessage
		s.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	case "dm:unread-count":
		var payload struct {
			UnreadCount int64 `json:"unreadCount"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		s.mu.Lock()
		fn := s.onUnread
		s.mu.Unlock()
		if fn != nil {
			fn(payload.UnreadCount)
		}
	case "ack":
		var res ackResult
		if err := json.Unmarshal(ev.Data, &res); err != nil {
			return
		}
		s.mu.Lock()
		ch, ok := s.acks[ev.ID]
		delete(s.acks, ev.ID)
		s.mu.Unlock()
		if ok {
			ch <- res
		}
	}
}

// reconnect redials until it succeeds or the socket is closed. Returns
// false when the socket was closed deliberately.
func (s *Socket) reconnect(old wireConn) bool {
	_ = old.Close()
	delay := time.Second
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return false
		}
		s.mu.Unlock()

		conn, err := s.dial()
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				_ = conn.Close()
				return false
			}
			s.conn = conn
			s.mu.Unlock()
			return true
		}

		log.Printf("Socket reconnect failed, retrying in %s: %v", delay, err)
		time.Sleep(delay)
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *Socket) failPendingAcks() {
	s.mu.Lock()
	pending := s.acks
	s.acks = make(map[string]chan ackResult)
	s.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// Send pushes a message over the socket and waits for the server ack.
// The duplicate flag reports an idempotent replay; a structured error
// means the caller should fall back to the REST send path.
func (s *Socket) Send(ctx context.Context, conversationID, text, clientMessageID string) (models.Message, bool, error) {
	ackID := fmt.Sprintf("a%d", atomic.AddInt64(&s.nextAckID, 1))
	payload, err := json.Marshal(map[string]string{
		"conversationId":  conversationID,
		"text":            text,
		"clientMessageId": clientMessageID,
	})
	if err != nil {
		return models.Message{}, false, err
	}

	ch := make(chan ackResult, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Message{}, false, apperrors.Unavailable("Socket closed", nil)
	}
	conn := s.conn
	s.acks[ackID] = ch
	s.mu.Unlock()

	s.writeMu.Lock()
	err = conn.WriteJSON(event{Event: "dm:send", ID: ackID, Data: payload})
	s.writeMu.Unlock()
	if err != nil {
		s.dropAck(ackID)
		return models.Message{}, false, apperrors.Unavailable("Socket write failed", err)
	}

	timer := time.NewTimer(sendAckTimeout)
	defer timer.Stop()
	select {
	case res, ok := <-ch:
		if !ok {
			return models.Message{}, false, apperrors.Unavailable("Socket dropped before ack", nil)
		}
		if !res.OK {
			code := apperrors.CodeUnknown
			msg := "Send failed"
			if res.Error != nil {
				code = apperrors.Code(res.Error.Code)
				msg = res.Error.Message
			}
			return models.Message{}, false, apperrors.New(code, msg)
		}
		return res.Message, res.Duplicate, nil
	case <-timer.C:
		s.dropAck(ackID)
		return models.Message{}, false, apperrors.Unavailable("Timed out waiting for ack", nil)
	case <-ctx.Done():
		s.dropAck(ackID)
		return models.Message{}, false, ctx.Err()
	}
}

func (s *Socket) dropAck(id string) {
	s.mu.Lock()
	delete(s.acks, id)
	s.mu.Unlock()
}

func (s *Socket) Close() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.failPendingAcks()
}
