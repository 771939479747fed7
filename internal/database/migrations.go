package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates indexes not expressible in a plain golang-migrate
// CREATE TABLE statement: GIN indexes over the patterns table's JSONB
// token_set and metadata columns, used by internal/patternstore's token
// containment queries.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_patterns_token_set_gin
		ON patterns USING gin(token_set)`)
	if err != nil {
		return fmt.Errorf("failed to create token_set GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_patterns_metadata_gin
		ON patterns USING gin(metadata)`)
	if err != nil {
		return fmt.Errorf("failed to create metadata GIN index: %w", err)
	}

	return nil
}
