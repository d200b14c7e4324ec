package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// RequestLog is one marketplace request made on behalf of a user.
type RequestLog struct {
	ID         int64
	RequestID  string
	UserID     int64
	Site       string
	Query      string
	Page       int
	Status     string // "ok", "auth", "blocked", "transient", "empty_page", "error"
	Items      int
	DurationMs int64
	CreatedAt  time.Time
}

// UsageRow is one user's aggregated request activity.
type UsageRow struct {
	UserID   int64
	Requests int
	Items    int64
	Errors   int
}

// LogDB records request activity in SQLite for the periodic stats task and
// post-hoc inspection.
type LogDB struct {
	db *sql.DB
}

// OpenLogDB opens (creating if needed) the request log database.
func OpenLogDB(dbPath string) (*LogDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &LogDB{db: db}, nil
}

func (l *LogDB) Close() error { return l.db.Close() }

// Insert records one request.
func (l *LogDB) Insert(ctx context.Context, r *RequestLog) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO request_log (request_id, user_id, site, query, page, status, items, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.UserID, r.Site, r.Query, r.Page, r.Status, r.Items, r.DurationMs, created.Unix())
	return err
}

// UsageSince aggregates per-user activity since the given instant.
func (l *LogDB) UsageSince(ctx context.Context, since time.Time) ([]UsageRow, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT user_id,
		        COUNT(*),
		        COALESCE(SUM(items), 0),
		        COALESCE(SUM(CASE WHEN status NOT IN ('ok', 'empty_page') THEN 1 ELSE 0 END), 0)
		 FROM request_log
		 WHERE created_at >= ?
		 GROUP BY user_id
		 ORDER BY user_id`,
		since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageRow
	for rows.Next() {
		var r UsageRow
		if err := rows.Scan(&r.UserID, &r.Requests, &r.Items, &r.Errors); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Purge deletes rows older than the given instant, returning the count.
func (l *LogDB) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM request_log WHERE created_at < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
