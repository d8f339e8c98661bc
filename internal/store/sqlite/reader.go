package sqlite

import (
	"context"
	"fmt"
	"log"

	"kiteticker/pkg/kiteticker"
)

// Load returns the stored subscriptions. Rows with an unknown mode are
// skipped with a warning rather than failing the whole load.
func (s *Store) Load(ctx context.Context) (map[uint32]kiteticker.Mode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token, mode FROM subscriptions ORDER BY token ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query subscriptions: %w", err)
	}
	defer rows.Close()

	entries := make(map[uint32]kiteticker.Mode)
	for rows.Next() {
		var (
			token int64
			name  string
		)
		if err := rows.Scan(&token, &name); err != nil {
			return nil, fmt.Errorf("sqlite scan subscriptions: %w", err)
		}
		mode, err := kiteticker.ParseMode(name)
		if err != nil {
			log.Printf("[sqlite] skipping token %d: %v", token, err)
			continue
		}
		entries[uint32(token)] = mode
	}
	return entries, rows.Err()
}

// LastUpdated returns the unix time of the last Save, or 0 when nothing
// has been saved.
func (s *Store) LastUpdated(ctx context.Context) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), 0) FROM subscriptions`).Scan(&ts)
	return ts, err
}
