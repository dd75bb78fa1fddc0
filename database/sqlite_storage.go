package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/MunishMummadi/web-scrapper/config"
	"github.com/MunishMummadi/web-scrapper/model"
	"github.com/MunishMummadi/web-scrapper/queue"
)

// Storage defines the interface for content persistence: the crawl
// results and logs the crawler pushes, the read side the HTTP front-end
// consumes, and the frontier persistence mirror.
type Storage interface {
	StoreCrawlResult(ctx context.Context, result *model.CrawlResult) error
	StoreCrawlLog(ctx context.Context, sessionID string, level model.LogLevel, message string) error

	GetResults(ctx context.Context, sessionID string, limit, offset int) ([]StoredResult, error)
	GetResultsCount(ctx context.Context, sessionID string) (int, error)
	GetRecentLogs(ctx context.Context, sessionID string, limit int) ([]StoredLog, error)

	Persist(ctx context.Context, sessionID, url string, depth int, readyAt time.Time, retryCount int) error
	Remove(ctx context.Context, sessionID, url string) error
	LoadPending(ctx context.Context, sessionID string, limit int) ([]queue.PendingEntry, error)

	Close() error
}

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// StoredResult is one crawl result row as read back from storage.
type StoredResult struct {
	SessionID    string    `json:"session_id"`
	URL          string    `json:"url"`
	FinalURL     string    `json:"final_url"`
	Domain       string    `json:"domain"`
	StatusCode   int       `json:"status_code"`
	ContentType  string    `json:"content_type"`
	ContentSize  int       `json:"content_size"`
	Title        string    `json:"title"`
	Description  string    `json:"meta_description"`
	CrawlStatus  string    `json:"crawl_status"`
	RetryCount   int       `json:"retry_count"`
	FailureType  string    `json:"failure_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	LinkCount    int       `json:"link_count"`
	FinishedAt   time.Time `json:"finished_at"`
}

// StoredLog is one crawl log row.
type StoredLog struct {
	SessionID string    `json:"session_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSQLiteStorage creates a new SQLite-based storage
func NewSQLiteStorage(cfg config.DatabaseConfig) (*SQLiteStorage, error) {
	// Ensure the directory for the database file exists
	dbDir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
	}

	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL") // Use WAL mode for better concurrency
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %s: %w", cfg.FilePath, err)
	}

	// Ping DB to ensure connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	// Create tables if they don't exist
	schema := `
	CREATE TABLE IF NOT EXISTS crawl_results (
		session_id TEXT NOT NULL,
		url TEXT NOT NULL,
		final_url TEXT,
		domain TEXT,
		status_code INTEGER,
		content_type TEXT,
		content_size INTEGER,
		title TEXT,
		meta_description TEXT,
		text_content TEXT,
		raw_content BLOB,
		links TEXT,
		crawl_status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		is_retry INTEGER NOT NULL DEFAULT 0,
		failure_type TEXT,
		error_message TEXT,
		queued_at TIMESTAMP,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		PRIMARY KEY (session_id, url)
	);
	CREATE INDEX IF NOT EXISTS idx_results_finished ON crawl_results (finished_at);
	CREATE INDEX IF NOT EXISTS idx_results_domain ON crawl_results (domain);

	CREATE TABLE IF NOT EXISTS crawl_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_session ON crawl_logs (session_id, created_at);

	CREATE TABLE IF NOT EXISTS frontier_state (
		session_id TEXT NOT NULL,
		url TEXT NOT NULL,
		depth INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		ready_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'pending',
		PRIMARY KEY (session_id, url)
	);
	CREATE INDEX IF NOT EXISTS idx_frontier_status ON frontier_state (session_id, status);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create storage tables: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// StoreCrawlResult upserts a crawl result keyed by (sessionId, url).
// Retried URLs overwrite their earlier row.
func (s *SQLiteStorage) StoreCrawlResult(ctx context.Context, result *model.CrawlResult) error {
	links, err := json.Marshal(result.Links)
	if err != nil {
		links = []byte("[]")
	}

	query := `
	INSERT INTO crawl_results (
		session_id, url, final_url, domain, status_code, content_type,
		content_size, title, meta_description, text_content, raw_content,
		links, crawl_status, retry_count, is_retry, failure_type,
		error_message, queued_at, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, url) DO UPDATE SET
		final_url = excluded.final_url,
		domain = excluded.domain,
		status_code = excluded.status_code,
		content_type = excluded.content_type,
		content_size = excluded.content_size,
		title = excluded.title,
		meta_description = excluded.meta_description,
		text_content = excluded.text_content,
		raw_content = excluded.raw_content,
		links = excluded.links,
		crawl_status = excluded.crawl_status,
		retry_count = excluded.retry_count,
		is_retry = excluded.is_retry,
		failure_type = excluded.failure_type,
		error_message = excluded.error_message,
		started_at = excluded.started_at,
		finished_at = excluded.finished_at;
	`
	_, err = s.db.ExecContext(ctx, query,
		result.SessionID, result.URL, result.FinalURL, result.Domain,
		result.StatusCode, result.ContentType, result.ContentSize,
		result.Title, result.MetaDescription, result.TextContent,
		result.RawContent, string(links), string(result.CrawlStatus),
		result.RetryCount, result.IsRetryAttempt, string(result.FailureType),
		result.ErrorMessage, result.QueuedAt, result.StartedAt, result.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store crawl result for url %s: %w", result.URL, err)
	}
	return nil
}

// StoreCrawlLog appends a crawl log line for a session.
func (s *SQLiteStorage) StoreCrawlLog(ctx context.Context, sessionID string, level model.LogLevel, message string) error {
	query := `INSERT INTO crawl_logs (session_id, level, message, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, sessionID, string(level), message, time.Now()); err != nil {
		return fmt.Errorf("failed to store crawl log: %w", err)
	}
	return nil
}

// GetResults retrieves a paginated list of crawl results, most recent
// first. An empty sessionID returns results across all sessions.
func (s *SQLiteStorage) GetResults(ctx context.Context, sessionID string, limit, offset int) ([]StoredResult, error) {
	query := `
	SELECT session_id, url, final_url, domain, status_code, content_type,
		content_size, title, meta_description, crawl_status, retry_count,
		failure_type, error_message, links, finished_at
	FROM crawl_results
	`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY finished_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl results: %w", err)
	}
	defer rows.Close()

	var results []StoredResult
	for rows.Next() {
		var r StoredResult
		var failureType, errorMessage, links sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(
			&r.SessionID, &r.URL, &r.FinalURL, &r.Domain, &r.StatusCode,
			&r.ContentType, &r.ContentSize, &r.Title, &r.Description,
			&r.CrawlStatus, &r.RetryCount, &failureType, &errorMessage,
			&links, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.FailureType = failureType.String
		r.ErrorMessage = errorMessage.String
		if finishedAt.Valid {
			r.FinishedAt = finishedAt.Time
		}
		if links.Valid {
			var linkList []string
			if err := json.Unmarshal([]byte(links.String), &linkList); err == nil {
				r.LinkCount = len(linkList)
			}
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return results, nil
}

// GetResultsCount returns the total count of stored crawl results.
func (s *SQLiteStorage) GetResultsCount(ctx context.Context, sessionID string) (int, error) {
	query := `SELECT COUNT(*) FROM crawl_results`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count crawl results: %w", err)
	}
	return count, nil
}

// GetRecentLogs returns the most recent crawl log lines for a session.
func (s *SQLiteStorage) GetRecentLogs(ctx context.Context, sessionID string, limit int) ([]StoredLog, error) {
	query := `
	SELECT session_id, level, message, created_at FROM crawl_logs
	WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl logs: %w", err)
	}
	defer rows.Close()

	var logs []StoredLog
	for rows.Next() {
		var l StoredLog
		if err := rows.Scan(&l.SessionID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return logs, nil
}

// Persist upserts a pending frontier entry for (sessionId, url).
func (s *SQLiteStorage) Persist(ctx context.Context, sessionID, url string, depth int, readyAt time.Time, retryCount int) error {
	query := `
	INSERT INTO frontier_state (session_id, url, depth, retry_count, ready_at, status)
	VALUES (?, ?, ?, ?, ?, 'pending')
	ON CONFLICT(session_id, url) DO UPDATE SET
		depth = excluded.depth,
		retry_count = excluded.retry_count,
		ready_at = excluded.ready_at,
		status = 'pending';
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, url, depth, retryCount, readyAt); err != nil {
		return fmt.Errorf("failed to persist frontier entry for url %s: %w", url, err)
	}
	return nil
}

// Remove marks a frontier entry visited once the URL goes terminal.
func (s *SQLiteStorage) Remove(ctx context.Context, sessionID, url string) error {
	query := `UPDATE frontier_state SET status = 'visited' WHERE session_id = ? AND url = ?`
	if _, err := s.db.ExecContext(ctx, query, sessionID, url); err != nil {
		return fmt.Errorf("failed to mark frontier entry visited for url %s: %w", url, err)
	}
	return nil
}

// LoadPending returns up to limit pending frontier entries for a session.
func (s *SQLiteStorage) LoadPending(ctx context.Context, sessionID string, limit int) ([]queue.PendingEntry, error) {
	query := `
	SELECT url, depth, retry_count, ready_at FROM frontier_state
	WHERE session_id = ? AND status = 'pending' ORDER BY ready_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending frontier entries: %w", err)
	}
	defer rows.Close()

	var entries []queue.PendingEntry
	for rows.Next() {
		var e queue.PendingEntry
		var readyAt sql.NullTime
		if err := rows.Scan(&e.URL, &e.Depth, &e.RetryCount, &readyAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if readyAt.Valid {
			e.ReadyAt = readyAt.Time
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return entries, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
