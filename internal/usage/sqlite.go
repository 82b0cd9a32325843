package usage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists buckets in a local SQLite database. It suits
// single-instance deployments that need usage to survive restarts.
type SQLiteStore struct {
	db        *sql.DB
	closeOnce sync.Once

	incrementStmt *sql.Stmt
	countsStmt    *sql.Stmt
	pruneStmt     *sql.Stmt
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS usage_buckets (
		identity TEXT NOT NULL,
		day TEXT NOT NULL,
		service TEXT NOT NULL,
		method TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (identity, day, service, method)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_day ON usage_buckets(day);
	`)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.incrementStmt, err = s.db.Prepare(`
		INSERT INTO usage_buckets (identity, day, service, method, count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (identity, day, service, method) DO UPDATE SET
			count = count + 1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare increment statement: %w", err)
	}

	s.countsStmt, err = s.db.Prepare(`
		SELECT service, method, count
		FROM usage_buckets
		WHERE identity = ? AND day = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare counts statement: %w", err)
	}

	s.pruneStmt, err = s.db.Prepare(`DELETE FROM usage_buckets WHERE day < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare prune statement: %w", err)
	}

	return nil
}

// Increment implements Store.
func (s *SQLiteStore) Increment(ctx context.Context, identity, service, method string, day time.Time) error {
	if _, err := s.incrementStmt.ExecContext(ctx, identity, dayKey(day), service, method); err != nil {
		return fmt.Errorf("sqlite usage increment: %w", err)
	}
	return nil
}

// Counts implements Store.
func (s *SQLiteStore) Counts(ctx context.Context, identity string, day time.Time) (Counts, error) {
	rows, err := s.countsStmt.QueryContext(ctx, identity, dayKey(day))
	if err != nil {
		return nil, fmt.Errorf("sqlite usage read: %w", err)
	}
	defer rows.Close()

	out := make(Counts)
	for rows.Next() {
		var service, method string
		var n int64
		if err := rows.Scan(&service, &method, &n); err != nil {
			return nil, fmt.Errorf("sqlite usage scan: %w", err)
		}
		out.Add(service, method, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite usage read: %w", err)
	}
	return out, nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.pruneStmt.ExecContext(ctx, dayKey(before))
	if err != nil {
		return 0, fmt.Errorf("sqlite usage prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.incrementStmt, s.countsStmt, s.pruneStmt} {
			if stmt != nil {
				_ = stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}
