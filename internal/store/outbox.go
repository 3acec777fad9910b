package store

import "time"

// EnqueueOutbox appends a message snapshot to the tail of the
// conversation's pending queue. Persisted immediately.
func (db *DB) EnqueueOutbox(conversationID string, m Message) error {
	_, err := db.Exec(`
		INSERT INTO outbox (conversation_id, msg_id, sender_id, receiver_id, body, created_at, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, m.ID, m.SenderID, m.ReceiverID, m.Text, m.CreatedAt, time.Now().UnixMilli())
	return err
}

// PeekOutbox returns the conversation's queue contents in enqueue order
// without removing them.
func (db *DB) PeekOutbox(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, conversation_id, sender_id, receiver_id, body, created_at
		FROM outbox
		WHERE conversation_id = ?
		ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.DeliveryState = DeliveryPending
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ClearOutbox removes the entire queue for a conversation. Called only
// after a sync attempt has processed the queue; there is no
// partial-removal operation.
func (db *DB) ClearOutbox(conversationID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE conversation_id = ?`, conversationID)
	return err
}

// ConversationsWithPending lists every conversation that currently has
// queued outbox entries, oldest first.
func (db *DB) ConversationsWithPending() ([]string, error) {
	rows, err := db.Query(`
		SELECT conversation_id FROM outbox
		GROUP BY conversation_id
		ORDER BY MIN(seq) ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
