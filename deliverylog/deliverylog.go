// Package deliverylog persists the append-only delivery log in SQLite.
package deliverylog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"creatormind/pkg/digest"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no entry matches a lookup.
var ErrNotFound = errors.New("delivery log entry not found")

// Store is the SQLite-backed delivery log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path, applies PRAGMAs and migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite is a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	logger.Debug("Delivery log opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// runMigrations executes the embedded SQL files in name order, one transaction each.
func runMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stmt, err := fs.ReadFile(migrationsFS, "migrations/"+e.Name())
		if err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(stmt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts a new entry. A missing ID is generated.
func (s *Store) Append(ctx context.Context, e *digest.LogEntry) error {
	if e == nil {
		return errors.New("nil entry")
	}
	if e.UserID == "" {
		return errors.New("entry without user id")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_log (
			id, user_id, recipient_email, subject, status, message_id,
			idea_count, sent_at, delivered_at, opened_at, failure_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.RecipientEmail, e.Subject, string(e.Status), nullString(e.MessageID),
		e.IdeaCount, e.SentAt.UTC().UnixMilli(), toNullMillis(e.DeliveredAt), toNullMillis(e.OpenedAt),
		nullString(e.FailureReason),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	s.logger.Debug("Delivery log entry appended", "id", e.ID, "user_id", e.UserID, "status", e.Status)
	return nil
}

const selectColumns = `
	SELECT id, user_id, recipient_email, subject, status, message_id,
	       idea_count, sent_at, delivered_at, opened_at, failure_reason
	FROM delivery_log`

// LastSuccessful returns the most recent sent or delivered entry for userID,
// or nil when the user has never been sent a digest.
func (s *Store) LastSuccessful(ctx context.Context, userID string) (*digest.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE user_id = ? AND status IN (?, ?)
		ORDER BY sent_at DESC, rowid DESC
		LIMIT 1`,
		userID, string(digest.StatusDelivered), string(digest.StatusSent),
	)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last successful: %w", err)
	}
	return e, nil
}

// History returns entries for userID, newest first.
func (s *Store) History(ctx context.Context, userID string, limit, offset int) ([]digest.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE user_id = ?
		ORDER BY sent_at DESC, rowid DESC
		LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var res []digest.LogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		res = append(res, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Count returns the number of entries for userID.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_log WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// RecordEvent applies a transport delivery event to the entry with messageID.
//
// Delivered promotes a sent entry and stamps delivered_at. Bounced replaces the
// status. Opened and clicked only stamp opened_at: they must not move an entry
// out of the sent/delivered set that frequency gating looks at.
func (s *Store) RecordEvent(ctx context.Context, messageID string, status digest.Status, at time.Time) error {
	if messageID == "" {
		return errors.New("empty message id")
	}

	var (
		res sql.Result
		err error
	)
	ms := at.UTC().UnixMilli()
	switch status {
	case digest.StatusDelivered:
		res, err = s.db.ExecContext(ctx, `
			UPDATE delivery_log
			SET status = CASE WHEN status = 'sent' THEN 'delivered' ELSE status END,
			    delivered_at = COALESCE(delivered_at, ?)
			WHERE message_id = ?`, ms, messageID)
	case digest.StatusOpened, digest.StatusClicked:
		res, err = s.db.ExecContext(ctx, `
			UPDATE delivery_log
			SET opened_at = COALESCE(opened_at, ?)
			WHERE message_id = ?`, ms, messageID)
	case digest.StatusBounced:
		res, err = s.db.ExecContext(ctx, `
			UPDATE delivery_log
			SET status = 'bounced', failure_reason = COALESCE(failure_reason, 'Bounced')
			WHERE message_id = ?`, messageID)
	default:
		return fmt.Errorf("unsupported event status %q", status)
	}
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*digest.LogEntry, error) {
	var (
		e         digest.LogEntry
		status    string
		messageID sql.NullString
		reason    sql.NullString
		sentAt    int64
		delivered sql.NullInt64
		opened    sql.NullInt64
	)
	if err := sc.Scan(
		&e.ID, &e.UserID, &e.RecipientEmail, &e.Subject, &status, &messageID,
		&e.IdeaCount, &sentAt, &delivered, &opened, &reason,
	); err != nil {
		return nil, err
	}

	e.Status = digest.Status(status)
	e.MessageID = messageID.String
	e.FailureReason = reason.String
	e.SentAt = time.UnixMilli(sentAt).UTC()
	e.DeliveredAt = fromNullMillis(delivered)
	e.OpenedAt = fromNullMillis(opened)
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
