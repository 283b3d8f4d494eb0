package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/gogo/relay/internal/domain"
)

// SQLiteStore is the notification outbox backed by SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS notifications (
			notification_id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL UNIQUE,
			author_id TEXT NOT NULL,
			author_name TEXT NOT NULL,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			delivered_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications(delivered_at, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Notify records msg in the outbox. Recording the same message twice is a no-op.
func (s *SQLiteStore) Notify(ctx context.Context, msg domain.Message) error {
	return s.CreateNotification(ctx, &domain.Notification{
		MessageID:  msg.ID,
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		Content:    msg.Content,
		Kind:       msg.Kind,
		CreatedAt:  msg.CreatedAt,
	})
}

// CreateNotification inserts a notification, assigning an ID when empty.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = "ntf_" + uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications (notification_id, message_id, author_id, author_name, content, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.MessageID, n.AuthorID, n.AuthorName, n.Content, string(n.Kind), n.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns notifications oldest first. When pendingOnly is
// set, delivered rows are skipped. A non-positive limit means 100.
func (s *SQLiteStore) ListNotifications(ctx context.Context, pendingOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT notification_id, message_id, author_id, author_name, content, kind, created_at, delivered_at FROM notifications`
	if pendingOnly {
		query += ` WHERE delivered_at IS NULL`
	}
	query += ` ORDER BY created_at ASC, rowid ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var kind string
		var delivered sql.NullTime
		if err := rows.Scan(&n.ID, &n.MessageID, &n.AuthorID, &n.AuthorName, &n.Content, &kind, &n.CreatedAt, &delivered); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Kind = domain.MessageKind(kind)
		if delivered.Valid {
			t := delivered.Time
			n.DeliveredAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkDelivered stamps a notification as delivered. Acknowledging twice
// keeps the first timestamp.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET delivered_at = COALESCE(delivered_at, ?) WHERE notification_id = ?`,
		s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark notification: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
