package channel

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// ErrNotSubscribed reports a publish to a user with no live connection. The
// event is dropped, not queued: callers that need guaranteed delivery
// persist a durable Notification as the fallback.
var ErrNotSubscribed = errors.New("no subscribed session")

// Conn is the minimal connection surface the channel needs.
// *websocket.Conn satisfies it; tests inject fakes so no live transport is
// required.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type inboxKey struct {
	UserID string
	Role   string
}

// Session is one actor's live connection. Writes are serialized per
// session.
type Session struct {
	conn Conn
	mu   sync.Mutex
}

func (s *Session) Send(ev models.NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// Channel is the per-user real-time event bus. Delivery is at-most-once per
// live connection with no ordering guarantee across connection churn; it is
// a latency optimization, never the source of truth.
type Channel struct {
	mu       sync.RWMutex
	sessions map[inboxKey]*Session
	logger   *slog.Logger
}

func NewChannel(logger *slog.Logger) *Channel {
	return &Channel{sessions: make(map[inboxKey]*Session), logger: logger}
}

// Subscribe binds a logical inbox to a live connection. Idempotent for the
// same connection; a new connection for the same inbox replaces (and
// closes) the old one.
func (c *Channel) Subscribe(userID, role string, conn Conn) {
	k := inboxKey{UserID: userID, Role: role}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.sessions[k]; ok {
		if old.conn == conn {
			return
		}
		_ = old.conn.Close()
	}
	c.sessions[k] = &Session{conn: conn}
	c.logger.Info("channel_subscribed", "user_id", userID, "role", role)
}

// Unsubscribe removes the inbox binding, but only if conn is still the
// bound connection, so a disconnect racing a reconnect cannot drop the
// fresh session.
func (c *Channel) Unsubscribe(userID, role string, conn Conn) {
	k := inboxKey{UserID: userID, Role: role}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[k]; ok && s.conn == conn {
		delete(c.sessions, k)
		_ = conn.Close()
		c.logger.Info("channel_unsubscribed", "user_id", userID, "role", role)
	}
}

// Publish delivers to the user's live connection if subscribed, otherwise
// returns ErrNotSubscribed. A write failure drops the dead session.
func (c *Channel) Publish(userID, role string, ev models.NotificationEvent) error {
	k := inboxKey{UserID: userID, Role: role}
	c.mu.RLock()
	s, ok := c.sessions[k]
	c.mu.RUnlock()
	if !ok {
		return ErrNotSubscribed
	}
	if err := s.Send(ev); err != nil {
		c.logger.Warn("channel_send_failed", "user_id", userID, "role", role, "error", err)
		c.Unsubscribe(userID, role, s.conn)
		return err
	}
	return nil
}

// Broadcast delivers best-effort to every subscribed session with the given
// role and returns the delivered count.
func (c *Channel) Broadcast(role string, ev models.NotificationEvent) int {
	c.mu.RLock()
	targets := make([]*Session, 0, len(c.sessions))
	for k, s := range c.sessions {
		if k.Role == role {
			targets = append(targets, s)
		}
	}
	c.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if err := s.Send(ev); err == nil {
			sent++
		}
	}
	return sent
}

// Subscribed reports whether the inbox has a live connection.
func (c *Channel) Subscribed(userID, role string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[inboxKey{UserID: userID, Role: role}]
	return ok
}
