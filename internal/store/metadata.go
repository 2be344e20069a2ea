package store

import (
	"context"
	"database/sql"
)

// Metadata keys.
const (
	MetaQuestionsRevision = "questions_revision"
	MetaQuestionsImported = "questions_imported_at"
	MetaRosterImported    = "roster_imported_at"
)

// SetMetadata upserts a key-value pair in the app_metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO app_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`),
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM app_metadata WHERE key = ?`), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
