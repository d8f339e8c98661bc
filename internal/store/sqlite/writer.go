package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"kiteticker/pkg/kiteticker"

	_ "github.com/mattn/go-sqlite3"
)

const defaultFlushDelay = 500 * time.Millisecond

// StoreConfig configures the SQLite subscription store.
type StoreConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/subscriptions.db"
}

// Store persists the subscription registry (token -> mode) so a restarted
// daemon resubscribes to what it was streaming. Ticks are never stored.
type Store struct {
	db *sql.DB

	// OnCommit is called with the duration of every committed Save.
	OnCommit func(d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg StoreConfig) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS subscriptions (
			token      INTEGER PRIMARY KEY,
			mode       TEXT    NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}

// Save replaces the stored subscriptions with entries in one transaction.
func (s *Store) Save(ctx context.Context, entries map[uint32]kiteticker.Mode) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions`); err != nil {
		tx.Rollback()
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO subscriptions (token, mode, updated_at)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := start.Unix()
	for token, mode := range entries {
		if _, err := stmt.ExecContext(ctx, int64(token), mode.String(), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %d: %w", token, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if s.OnCommit != nil {
		s.OnCommit(time.Since(start))
	}
	return nil
}

// Run saves registry snapshots received on snapCh. Bursts of changes are
// coalesced: only the latest snapshot is written, at most once per
// flushDelay. Blocks until ctx is cancelled or snapCh is closed; a pending
// snapshot is written before returning.
func (s *Store) Run(ctx context.Context, snapCh <-chan map[uint32]kiteticker.Mode) {
	var pending map[uint32]kiteticker.Mode
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if pending == nil {
			return
		}
		// ctx may already be done on shutdown
		if err := s.Save(context.Background(), pending); err != nil {
			log.Printf("[sqlite] save subscriptions error: %v", err)
		} else {
			log.Printf("[sqlite] saved %d subscriptions", len(pending))
		}
		pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case snap, ok := <-snapCh:
			if !ok {
				flush()
				return
			}
			pending = snap

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
