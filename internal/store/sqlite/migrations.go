package sqlite

import (
	"context"
	"fmt"
)

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS claims (
			id TEXT PRIMARY KEY,
			account_index INTEGER NOT NULL,
			device_id TEXT NOT NULL,
			value REAL NOT NULL,
			balance REAL NOT NULL,
			claimed_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_claims_claimed_at ON claims (claimed_at DESC);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value_json TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
