// Package sync reconciles pending outboxes against the remote chat
// service when connectivity returns.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/sahasi-app/sahasi/internal/bus"
	"github.com/sahasi-app/sahasi/internal/metrics"
	"github.com/sahasi-app/sahasi/internal/store"
	"go.uber.org/zap"
)

// Poster submits one outgoing message to the remote message store.
type Poster interface {
	PostMessage(ctx context.Context, sender, receiver, text string) error
}

// Result summarizes one sync pass over a conversation. It is the
// payload of sync.completed events.
type Result struct {
	ConversationID string
	Attempted      int
	Confirmed      int
}

// Engine drains pending outboxes. A pass never fails outward: per-entry
// delivery errors are recorded, the outbox is cleared unconditionally,
// and the caller receives the best-known conversation log.
type Engine struct {
	db      *store.DB
	poster  Poster
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a sync engine.
func NewEngine(db *store.DB, poster Poster, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		poster:  poster,
		bus:     b,
		metrics: m,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// SyncAll drains every conversation that has pending outbox entries.
// The daemon invokes it on every offline→online edge.
func (e *Engine) SyncAll(ctx context.Context) {
	ids, err := e.db.ConversationsWithPending()
	if err != nil {
		e.logger.Error("list pending conversations", zap.Error(err))
		return
	}
	for _, id := range ids {
		e.SyncConversation(ctx, id)
	}
}

// SyncConversation reconciles one conversation's outbox:
//
//  1. Peek all entries; an empty queue is a no-op with no network I/O.
//  2. Attempt each entry in enqueue order, recording success per entry;
//     a failure never aborts the batch.
//  3. Flip succeeded ids to confirmed in the message log.
//  4. Clear the outbox unconditionally — entries that failed are
//     dropped after this one attempt, not requeued.
//
// Returns the refreshed log so the caller can re-render.
func (e *Engine) SyncConversation(ctx context.Context, conversationID string) []store.Message {
	lock := e.LockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := e.db.PeekOutbox(conversationID)
	if err != nil {
		e.logger.Error("peek outbox", zap.String("conversation", conversationID), zap.Error(err))
		return e.bestKnown(conversationID)
	}
	if len(entries) == 0 {
		return e.bestKnown(conversationID)
	}

	var confirmed []string
	for _, entry := range entries {
		if err := e.poster.PostMessage(ctx, entry.SenderID, entry.ReceiverID, entry.Text); err != nil {
			e.logger.Warn("delivery failed",
				zap.String("conversation", conversationID),
				zap.String("msg_id", entry.ID),
				zap.Error(err))
			continue
		}
		confirmed = append(confirmed, entry.ID)
	}

	log, err := e.db.ReplaceDeliveryStates(conversationID, confirmed)
	if err != nil {
		e.logger.Error("replace delivery states", zap.String("conversation", conversationID), zap.Error(err))
		log = e.bestKnown(conversationID)
	}

	if err := e.db.ClearOutbox(conversationID); err != nil {
		e.logger.Error("clear outbox", zap.String("conversation", conversationID), zap.Error(err))
	}

	if e.metrics != nil {
		e.metrics.SyncRuns.Inc()
		e.metrics.MessagesConfirmed.Add(float64(len(confirmed)))
		e.metrics.MessagesDropped.Add(float64(len(entries) - len(confirmed)))
	}

	e.logger.Info("outbox drained",
		zap.String("conversation", conversationID),
		zap.Int("attempted", len(entries)),
		zap.Int("confirmed", len(confirmed)))

	if e.bus != nil {
		e.bus.Publish(bus.Event{
			Kind:      "sync.completed",
			Timestamp: time.Now(),
			Payload: Result{
				ConversationID: conversationID,
				Attempted:      len(entries),
				Confirmed:      len(confirmed),
			},
		})
		for _, id := range confirmed {
			e.bus.Publish(bus.Event{
				Kind:      "message.confirmed",
				Timestamp: time.Now(),
				Payload:   map[string]string{"conversation_id": conversationID, "msg_id": id},
			})
		}
	}

	return log
}

func (e *Engine) bestKnown(conversationID string) []store.Message {
	log, err := e.db.LoadConversation(conversationID)
	if err != nil {
		e.logger.Error("load conversation", zap.String("conversation", conversationID), zap.Error(err))
		return nil
	}
	return log
}

// LockFor returns the mutex serializing work on one conversation. The
// chat session locks through here too, so a send and a drain on the
// same conversation can never interleave their store writes.
func (e *Engine) LockFor(conversationID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[conversationID] = l
	}
	return l
}
