package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/mikey/llm-mail-sorter/internal/core"
	"go.uber.org/zap"
)

const mysqlTimeFormat = "2006-01-02 15:04:05"

// MySQLStore is a MySQL implementation of the FingerprintStore interface,
// for deployments that keep dedup state off the local disk.
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// NewMySQLStore creates a new MySQL fingerprint store
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	// Create table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS processed_emails (
			fingerprint VARCHAR(64) PRIMARY KEY,
			account_name VARCHAR(255) NOT NULL,
			processed_at DATETIME NOT NULL,
			sender TEXT,
			subject TEXT,
			category VARCHAR(255),
			INDEX idx_processed_account (account_name),
			INDEX idx_processed_at (processed_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MySQLStore{
		db:     db,
		logger: logger,
	}, nil
}

// Has reports whether a processed record exists for the fingerprint
func (s *MySQLStore) Has(ctx context.Context, fingerprint string) (bool, error) {
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
func (s *MySQLStore) Record(ctx context.Context, rec *core.ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT IGNORE INTO processed_emails (fingerprint, account_name, processed_at, sender, subject, category)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Fingerprint, rec.Account, rec.ProcessedAt.UTC().Format(mysqlTimeFormat), rec.Sender, rec.Subject, rec.Category)

	if err != nil {
		return &core.StorageError{Op: "record", Err: err}
	}

	return nil
}

// Prune deletes records older than the given age, optionally scoped to one account
func (s *MySQLStore) Prune(ctx context.Context, olderThan time.Duration, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC().Format(mysqlTimeFormat)

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
func (s *MySQLStore) Reset(ctx context.Context, account string) (int64, error) {
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
func (s *MySQLStore) List(ctx context.Context, account string, fn func(*core.ProcessedRecord) error) error {
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
		rec.ProcessedAt, err = time.Parse(mysqlTimeFormat, processedAt)
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
func (s *MySQLStore) CategoryStats(ctx context.Context, account string) (map[string]int64, error) {
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
func (s *MySQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close MySQL database: %w", err)
	}
	return nil
}
