package store

import (
	"fmt"
	"strings"
)

// LoadConversation returns the persisted log for a conversation in
// insertion order. A conversation that has never been written yields an
// empty slice, not an error.
func (db *DB) LoadConversation(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, conversation_id, sender_id, receiver_id, body, created_at, delivery_state
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Text, &m.CreatedAt, &m.DeliveryState); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SaveConversation atomically replaces the stored log for a
// conversation. Full overwrite semantics: callers read-modify-write the
// entire log. Insertion order of the slice becomes the persisted order.
func (db *DB) SaveConversation(conversationID string, log []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	for _, m := range log {
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, sender_id, receiver_id, body, created_at, delivery_state)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			conversationID, m.ID, m.SenderID, m.ReceiverID, m.Text, m.CreatedAt, m.DeliveryState); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ReplaceDeliveryStates marks every message whose id is in confirmedIDs
// as confirmed, persists the change, and returns the updated log.
// Delivery-state transitions never reorder the log.
func (db *DB) ReplaceDeliveryStates(conversationID string, confirmedIDs []string) ([]Message, error) {
	if len(confirmedIDs) > 0 {
		placeholders := strings.Repeat("?,", len(confirmedIDs))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(confirmedIDs)+1)
		args = append(args, conversationID)
		for _, id := range confirmedIDs {
			args = append(args, id)
		}
		query := fmt.Sprintf(`
			UPDATE messages SET delivery_state = 'confirmed'
			WHERE conversation_id = ? AND msg_id IN (%s)`, placeholders)
		if _, err := db.Exec(query, args...); err != nil {
			return nil, fmt.Errorf("confirm messages: %w", err)
		}
	}
	return db.LoadConversation(conversationID)
}
