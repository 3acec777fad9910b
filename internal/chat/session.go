// Package chat orchestrates user-visible send and history for one
// conversation at a time: optimistic local append, outbox fallback when
// the chat service is unreachable, and remote-wins history refresh.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sahasi-app/sahasi/internal/api"
	"github.com/sahasi-app/sahasi/internal/bus"
	"github.com/sahasi-app/sahasi/internal/metrics"
	"github.com/sahasi-app/sahasi/internal/store"
	syncengine "github.com/sahasi-app/sahasi/internal/sync"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned when a send body is empty after trimming.
var ErrEmptyMessage = errors.New("message text is empty")

// Remote is the slice of the backend client the session needs.
type Remote interface {
	ListMessages(ctx context.Context, contactID string) ([]api.RemoteMessage, error)
	PostMessage(ctx context.Context, sender, receiver, text string) error
}

// Presence reports last-known reachability.
type Presence interface {
	Online() bool
}

// Identity supplies the signed-in user's id.
type Identity interface {
	UserID() string
}

// Session is the conversation controller.
type Session struct {
	db       *store.DB
	remote   Remote
	engine   *syncengine.Engine
	presence Presence
	identity Identity
	bus      *bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewSession creates a chat session controller.
func NewSession(db *store.DB, remote Remote, engine *syncengine.Engine, presence Presence, identity Identity, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		db:       db,
		remote:   remote,
		engine:   engine,
		presence: presence,
		identity: identity,
		bus:      b,
		metrics:  m,
		logger:   logger,
	}
}

// Send validates and sends one message. The message is appended to the
// local log immediately regardless of connectivity (optimistic UI).
// Online, delivery is attempted at once; on failure — or when offline —
// the message lands in the pending outbox for a later sync.
func (s *Session) Send(ctx context.Context, conversationID, text string) (store.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Message{}, ErrEmptyMessage
	}

	lock := s.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	online := s.presence.Online()
	msg := store.Message{
		ID:             newMessageID(),
		ConversationID: conversationID,
		SenderID:       s.identity.UserID(),
		ReceiverID:     conversationID,
		Text:           text,
		CreatedAt:      time.Now().Format("15:04"),
		DeliveryState:  store.DeliveryPending,
	}
	if online {
		msg.DeliveryState = store.DeliveryConfirmed
	}

	// Optimistic append before any network I/O.
	if err := s.appendLocal(conversationID, msg); err != nil {
		return store.Message{}, err
	}

	if !online {
		return s.queue(conversationID, msg)
	}

	if err := s.remote.PostMessage(ctx, msg.SenderID, msg.ReceiverID, msg.Text); err != nil {
		s.logger.Warn("immediate send failed, queueing",
			zap.String("conversation", conversationID),
			zap.String("msg_id", msg.ID),
			zap.Error(err))
		// Flip the optimistic entry back to pending so the log and the
		// outbox agree on what is unconfirmed.
		msg.DeliveryState = store.DeliveryPending
		if err := s.setState(conversationID, msg.ID, store.DeliveryPending); err != nil {
			return store.Message{}, err
		}
		return s.queue(conversationID, msg)
	}

	if s.metrics != nil {
		s.metrics.MessagesSent.Inc()
	}
	s.publish("message.sent", msg)
	return msg, nil
}

// OnConnectivityRestored runs a sync pass for the conversation and
// returns the refreshed log for display.
func (s *Session) OnConnectivityRestored(ctx context.Context, conversationID string) []store.Message {
	s.engine.SyncConversation(ctx, conversationID)
	log, err := s.LoadHistory(ctx, conversationID)
	if err != nil {
		s.logger.Warn("reload after sync", zap.String("conversation", conversationID), zap.Error(err))
	}
	return log
}

// LoadHistory returns the conversation log. When online it fetches the
// authoritative remote log and overwrites local storage (remote-wins
// refresh); any remote failure leaves the cached log displayed.
func (s *Session) LoadHistory(ctx context.Context, conversationID string) ([]store.Message, error) {
	local, err := s.db.LoadConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !s.presence.Online() {
		return local, nil
	}

	remote, err := s.remote.ListMessages(ctx, conversationID)
	if err != nil {
		s.logger.Warn("remote history fetch failed, using cached log",
			zap.String("conversation", conversationID), zap.Error(err))
		return local, nil
	}

	lock := s.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	refreshed := make([]store.Message, 0, len(remote))
	for i, rm := range remote {
		id := rm.ID.String()
		if id == "" {
			id = fmt.Sprintf("r%d", i)
		}
		refreshed = append(refreshed, store.Message{
			ID:             id,
			ConversationID: conversationID,
			SenderID:       rm.Sender,
			ReceiverID:     rm.Receiver,
			Text:           rm.Message,
			CreatedAt:      rm.CreatedAt,
			DeliveryState:  store.DeliveryConfirmed,
		})
	}
	if err := s.db.SaveConversation(conversationID, refreshed); err != nil {
		return nil, fmt.Errorf("save refreshed conversation: %w", err)
	}
	return refreshed, nil
}

func (s *Session) appendLocal(conversationID string, msg store.Message) error {
	log, err := s.db.LoadConversation(conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	log = append(log, msg)
	if err := s.db.SaveConversation(conversationID, log); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *Session) setState(conversationID, msgID string, state store.DeliveryState) error {
	log, err := s.db.LoadConversation(conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	for i := range log {
		if log[i].ID == msgID {
			log[i].DeliveryState = state
		}
	}
	if err := s.db.SaveConversation(conversationID, log); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *Session) queue(conversationID string, msg store.Message) (store.Message, error) {
	msg.DeliveryState = store.DeliveryPending
	if err := s.db.EnqueueOutbox(conversationID, msg); err != nil {
		return store.Message{}, fmt.Errorf("enqueue outbox: %w", err)
	}
	if s.metrics != nil {
		s.metrics.MessagesQueued.Inc()
	}
	s.publish("message.queued", msg)
	return msg, nil
}

func (s *Session) publish(kind string, msg store.Message) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": msg.ConversationID,
			"msg_id":          msg.ID,
		},
	})
}

// lockFor shares the sync engine's per-conversation locks: a send and
// a drain on the same conversation are mutually excluded, so neither
// can clear or overwrite entries the other is mid-way through.
func (s *Session) lockFor(conversationID string) *sync.Mutex {
	return s.engine.LockFor(conversationID)
}

// newMessageID generates a time-based id, stable across retries once
// assigned.
func newMessageID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
