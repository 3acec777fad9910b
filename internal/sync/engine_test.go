package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sahasi-app/sahasi/internal/bus"
	"github.com/sahasi-app/sahasi/internal/store"
)

// mockPoster records calls and fails for configured message bodies.
type mockPoster struct {
	calls []postCall
	fail  map[string]bool
}

type postCall struct {
	Sender   string
	Receiver string
	Text     string
}

func (m *mockPoster) PostMessage(_ context.Context, sender, receiver, text string) error {
	m.calls = append(m.calls, postCall{Sender: sender, Receiver: receiver, Text: text})
	if m.fail[text] {
		return fmt.Errorf("rejected: %s", text)
	}
	return nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *store.DB, conv string, bodies ...string) {
	t.Helper()
	var log []store.Message
	for i, body := range bodies {
		m := store.Message{
			ID:             fmt.Sprintf("m%d", i+1),
			ConversationID: conv,
			SenderID:       "1",
			ReceiverID:     conv,
			Text:           body,
			CreatedAt:      "09:00",
			DeliveryState:  store.DeliveryPending,
		}
		log = append(log, m)
		if err := db.EnqueueOutbox(conv, m); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.SaveConversation(conv, log); err != nil {
		t.Fatal(err)
	}
}

func TestSyncEmptyOutboxIsNoOp(t *testing.T) {
	db := testDB(t)
	mock := &mockPoster{}
	e := NewEngine(db, mock, bus.New(), nil, nil)

	if err := db.SaveConversation("7", []store.Message{
		{ID: "m1", ConversationID: "7", SenderID: "1", ReceiverID: "7", Text: "hi", CreatedAt: "09:00", DeliveryState: store.DeliveryConfirmed},
	}); err != nil {
		t.Fatal(err)
	}

	log := e.SyncConversation(context.Background(), "7")

	if len(mock.calls) != 0 {
		t.Errorf("got %d network calls, want 0 for empty outbox", len(mock.calls))
	}
	if len(log) != 1 || log[0].DeliveryState != store.DeliveryConfirmed {
		t.Errorf("log changed by empty sync: %+v", log)
	}
}

func TestDrainThenConfirm(t *testing.T) {
	db := testDB(t)
	mock := &mockPoster{fail: map[string]bool{"two": true}}
	e := NewEngine(db, mock, bus.New(), nil, nil)

	seed(t, db, "7", "one", "two", "three")

	log := e.SyncConversation(context.Background(), "7")

	// All three attempted, in enqueue order.
	if len(mock.calls) != 3 {
		t.Fatalf("got %d calls, want 3 (one failure must not abort the batch)", len(mock.calls))
	}
	for i, want := range []string{"one", "two", "three"} {
		if mock.calls[i].Text != want {
			t.Errorf("call %d = %q, want %q", i, mock.calls[i].Text, want)
		}
	}

	// m1 and m3 confirmed, m2 still pending.
	wantStates := []store.DeliveryState{store.DeliveryConfirmed, store.DeliveryPending, store.DeliveryConfirmed}
	if len(log) != 3 {
		t.Fatalf("got %d messages, want 3", len(log))
	}
	for i, want := range wantStates {
		if log[i].DeliveryState != want {
			t.Errorf("%s state = %s, want %s", log[i].ID, log[i].DeliveryState, want)
		}
	}

	// Outbox cleared unconditionally, including the failed entry.
	queued, err := db.PeekOutbox("7")
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 0 {
		t.Errorf("got %d outbox entries after sync, want 0 (clear-after-attempt)", len(queued))
	}
}

func TestSyncPublishesResult(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, &mockPoster{}, b, nil, nil)

	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	seed(t, db, "7", "hello")
	e.SyncConversation(context.Background(), "7")

	select {
	case evt := <-ch:
		res, ok := evt.Payload.(Result)
		if !ok {
			t.Fatalf("payload type = %T, want Result", evt.Payload)
		}
		if res.Attempted != 1 || res.Confirmed != 1 {
			t.Errorf("result = %+v, want attempted=1 confirmed=1", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sync.completed event")
	}
}

func TestSyncAllDrainsEveryConversation(t *testing.T) {
	db := testDB(t)
	mock := &mockPoster{}
	e := NewEngine(db, mock, bus.New(), nil, nil)

	seed(t, db, "7", "to seven")
	seed(t, db, "9", "to nine")

	e.SyncAll(context.Background())

	if len(mock.calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(mock.calls))
	}
	ids, err := db.ConversationsWithPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("conversations still pending after SyncAll: %v", ids)
	}
}

// TestRedundantSyncIsSafe verifies that invoking the engine again after
// a drain does nothing: no duplicate POSTs.
func TestRedundantSyncIsSafe(t *testing.T) {
	db := testDB(t)
	mock := &mockPoster{}
	e := NewEngine(db, mock, bus.New(), nil, nil)

	seed(t, db, "7", "once")

	e.SyncConversation(context.Background(), "7")
	e.SyncConversation(context.Background(), "7")

	if len(mock.calls) != 1 {
		t.Errorf("got %d calls, want 1 (second sync must be a no-op)", len(mock.calls))
	}
}
