package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/llm-mail-sorter/internal/core"
	"go.uber.org/zap"
)

// SQLiteStore is a SQLite implementation of the FingerprintStore interface.
// Mutations are serialized by an internal mutex; records only leave the
// table through Prune and Reset.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// NewSQLiteStore creates a new SQLite fingerprint store
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Create table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS processed_emails (
			fingerprint TEXT PRIMARY KEY,
			account_name TEXT NOT NULL,
			processed_at TIMESTAMP NOT NULL,
			sender TEXT,
			subject TEXT,
			category TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	// Indexes for account-scoped queries and age-based pruning
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_processed_account ON processed_emails(account_name)
	`)
	if err == nil {
		_, err = db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_emails(processed_at)
		`)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

// Has reports whether a processed record exists for the fingerprint
func (s *SQLiteStore) Has(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM processed_emails WHERE fingerprint = ?
	`, fingerprint).Scan(&one)

	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, &core.StorageError{Op: "has", Err: err}
	}

	return true, nil
}

// Record stores a processed record; an already-present fingerprint is a no-op
func (s *SQLiteStore) Record(ctx context.Context, rec *core.ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_emails (fingerprint, account_name, processed_at, sender, subject, category)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Fingerprint, rec.Account, rec.ProcessedAt.UTC().Format(time.RFC3339), rec.Sender, rec.Subject, rec.Category)

	if err != nil {
		return &core.StorageError{Op: "record", Err: err}
	}

	return nil
}

// Prune deletes records older than the given age, optionally scoped to one account
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)

	var result sql.Result
	var err error
	if account != "" {
		result, err = s.db.ExecContext(ctx, `
			DELETE FROM processed_emails WHERE processed_at < ? AND account_name = ?
		`, cutoff, account)
	} else {
		result, err = s.db.ExecContext(ctx, `
			DELETE FROM processed_emails WHERE processed_at < ?
		`, cutoff)
	}
	if err != nil {
		return 0, &core.StorageError{Op: "prune", Err: err}
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, &core.StorageError{Op: "prune", Err: err}
	}

	s.logger.Debug("Pruned processed records",
		zap.Int64("deleted", deleted),
		zap.String("account", account))

	return deleted, nil
}

// Reset deletes all records, optionally scoped to one account
func (s *SQLiteStore) Reset(ctx context.Context, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result sql.Result
	var err error
	if account != "" {
		result, err = s.db.ExecContext(ctx, `
			DELETE FROM processed_emails WHERE account_name = ?
		`, account)
	} else {
		result, err = s.db.ExecContext(ctx, `DELETE FROM processed_emails`)
	}
	if err != nil {
		return 0, &core.StorageError{Op: "reset", Err: err}
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, &core.StorageError{Op: "reset", Err: err}
	}

	return deleted, nil
}

// List streams records through fn, oldest first, optionally scoped to one account
func (s *SQLiteStore) List(ctx context.Context, account string, fn func(*core.ProcessedRecord) error) error {
	var rows *sql.Rows
	var err error
	if account != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT fingerprint, account_name, processed_at, sender, subject, category
			FROM processed_emails WHERE account_name = ? ORDER BY processed_at
		`, account)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT fingerprint, account_name, processed_at, sender, subject, category
			FROM processed_emails ORDER BY processed_at
		`)
	}
	if err != nil {
		return &core.StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var rec core.ProcessedRecord
		var processedAt string
		if err := rows.Scan(&rec.Fingerprint, &rec.Account, &processedAt, &rec.Sender, &rec.Subject, &rec.Category); err != nil {
			return &core.StorageError{Op: "list", Err: err}
		}
		rec.ProcessedAt, err = time.Parse(time.RFC3339, processedAt)
		if err != nil {
			return &core.StorageError{Op: "list", Err: fmt.Errorf("failed to parse processed_at: %w", err)}
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return &core.StorageError{Op: "list", Err: err}
	}

	return nil
}

// CategoryStats returns per-category record counts, optionally scoped to one account
func (s *SQLiteStore) CategoryStats(ctx context.Context, account string) (map[string]int64, error) {
	var rows *sql.Rows
	var err error
	if account != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT category, COUNT(*) FROM processed_emails
			WHERE account_name = ? GROUP BY category
		`, account)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT category, COUNT(*) FROM processed_emails GROUP BY category
		`)
	}
	if err != nil {
		return nil, &core.StorageError{Op: "stats", Err: err}
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, &core.StorageError{Op: "stats", Err: err}
		}
		stats[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, &core.StorageError{Op: "stats", Err: err}
	}

	return stats, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close SQLite database: %w", err)
	}
	return nil
}
