package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultDialAttempts = 5
	defaultBaseDelay    = time.Second
	defaultWriteWait    = 5 * time.Second
	ackWait             = 5 * time.Second
)

// WSSink broadcasts batches to an agent router over one websocket
// connection, registering itself on connect and redialing with exponential
// backoff when the link drops. One delivery failure marks the connection
// dead; the next delivery starts a fresh dial cycle.
type WSSink struct {
	mu           sync.Mutex
	url          string
	agentID      string
	dialer       *websocket.Dialer
	conn         *websocket.Conn
	dialAttempts int
	baseDelay    time.Duration
	writeWait    time.Duration
	logger       Logger
}

// SinkOption configures a WSSink.
type SinkOption func(*WSSink)

// WithDialAttempts caps how many dials one delivery may try.
func WithDialAttempts(n int) SinkOption {
	return func(s *WSSink) {
		if n > 0 {
			s.dialAttempts = n
		}
	}
}

// WithBaseDelay sets the first backoff delay; it doubles per attempt.
func WithBaseDelay(d time.Duration) SinkOption {
	return func(s *WSSink) { s.baseDelay = d }
}

// WithWriteWait bounds each network write.
func WithWriteWait(d time.Duration) SinkOption {
	return func(s *WSSink) { s.writeWait = d }
}

// WithSinkLogger sets the sink logger.
func WithSinkLogger(logger Logger) SinkOption {
	return func(s *WSSink) { s.logger = logger }
}

// NewWSSink builds a sink for the given router URL. agentID identifies this
// daemon to the router.
func NewWSSink(url, agentID string, opts ...SinkOption) *WSSink {
	s := &WSSink{
		url:          url,
		agentID:      agentID,
		dialer:       websocket.DefaultDialer,
		dialAttempts: defaultDialAttempts,
		baseDelay:    defaultBaseDelay,
		writeWait:    defaultWriteWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type registerMessage struct {
	Type      string   `json:"type"`
	AgentID   string   `json:"agent_id"`
	AgentType string   `json:"agent_type"`
	Topics    []string `json:"topics"`
}

type broadcastMessage struct {
	Type        string `json:"type"`
	FromAgent   string `json:"from_agent"`
	MessageType string `json:"message_type"`
	Payload     *Batch `json:"payload"`
}

// Deliver ships one batch, dialing first if the connection is down.
func (s *WSSink) Deliver(ctx context.Context, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnectedLocked(ctx); err != nil {
		return err
	}

	msg := broadcastMessage{
		Type:        "broadcast",
		FromAgent:   s.agentID,
		MessageType: "evolution_batch",
		Payload:     batch,
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.dropLocked()
		return fmt.Errorf("broadcast batch: %w", err)
	}
	return nil
}

// ensureConnectedLocked dials and registers, backing off between attempts.
// Assumes s.mu is held.
func (s *WSSink) ensureConnectedLocked(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < s.dialAttempts; attempt++ {
		if attempt > 0 {
			delay := s.baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("dial event router: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			lastErr = err
			s.logWarn("event_router_dial_failed", "attempt", attempt+1, "error", err.Error())
			if ctx.Err() != nil {
				return fmt.Errorf("dial event router: %w", ctx.Err())
			}
			continue
		}

		s.conn = conn
		s.register()
		s.logInfo("event_router_connected", "url", s.url, "agent_id", s.agentID)
		return nil
	}
	return fmt.Errorf("dial event router: %w", lastErr)
}

// register announces this agent. A missing acknowledgment is tolerated; the
// router may be a plain fan-out that never acks.
func (s *WSSink) register() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	err := s.conn.WriteJSON(registerMessage{
		Type:      "register",
		AgentID:   s.agentID,
		AgentType: "evolution",
		Topics:    []string{"evolution_events"},
	})
	if err != nil {
		s.logWarn("event_router_register_failed", "error", err.Error())
		return
	}

	var ack struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(ackWait))
	if err := s.conn.ReadJSON(&ack); err != nil {
		s.logWarn("event_router_ack_missing", "error", err.Error())
		return
	}
	_ = s.conn.SetReadDeadline(time.Time{})
	if ack.Type != "ack" || ack.Status != "registered" {
		s.logWarn("event_router_ack_unexpected", "type", ack.Type, "status", ack.Status)
	}
}

// dropLocked discards the dead connection. Assumes s.mu is held.
func (s *WSSink) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close unregisters best-effort and closes the connection.
func (s *WSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	_ = s.conn.WriteJSON(map[string]string{"type": "unregister", "agent_id": s.agentID})
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *WSSink) logInfo(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Info(msg, kv...)
	}
}

func (s *WSSink) logWarn(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}
