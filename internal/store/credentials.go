package store

import (
	"database/sql"
	"errors"
	"time"
)

// SetCredential stores a key/value pair in the credentials table,
// overwriting any existing value.
func (db *DB) SetCredential(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO credentials (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Credential returns the stored value for key, or empty string when the
// key has never been set.
func (db *DB) Credential(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM credentials WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// DeleteCredential removes a stored key. Missing keys are not an error.
func (db *DB) DeleteCredential(key string) error {
	_, err := db.Exec(`DELETE FROM credentials WHERE key = ?`, key)
	return err
}
