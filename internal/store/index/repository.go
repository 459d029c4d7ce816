package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jaxs-ribs/codewalk/internal/event"
)

// Repository persists event.SessionSnapshot rows, implementing
// ports.SessionStorePort against the embedded migration schema in db.go.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an already-migrated *sql.DB (see Open).
func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

// Save upserts a session snapshot in a single statement and takes no lock
// of its own. The effect runtime runs each PersistSession on its own
// goroutine, so saves for the same session are not serialized before
// they reach the database.
func (r *Repository) Save(ctx context.Context, snapshot event.SessionSnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, kind, status, log_count, updated_at, summary)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			status = excluded.status,
			log_count = excluded.log_count,
			updated_at = excluded.updated_at,
			summary = excluded.summary
	`, snapshot.SessionID, string(snapshot.Kind), snapshot.Status, snapshot.LogCount, snapshot.UpdatedAt, snapshot.Summary)
	if err != nil {
		return fmt.Errorf("index: saving session %s: %w", snapshot.SessionID, err)
	}
	return nil
}

// Load retrieves one session's latest snapshot by id.
func (r *Repository) Load(ctx context.Context, sessionID string) (event.SessionSnapshot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, kind, status, log_count, updated_at, summary FROM sessions WHERE id = ?`, sessionID)

	var (
		snapshot event.SessionSnapshot
		kind     string
	)
	if err := row.Scan(&snapshot.SessionID, &kind, &snapshot.Status, &snapshot.LogCount, &snapshot.UpdatedAt, &snapshot.Summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event.SessionSnapshot{}, fmt.Errorf("index: session %s not found", sessionID)
		}
		return event.SessionSnapshot{}, fmt.Errorf("index: loading session %s: %w", sessionID, err)
	}
	snapshot.Kind = event.ExecutorKind(kind)
	return snapshot, nil
}

// ListRecent returns up to n of the most recently updated sessions, newest
// first — the persisted counterpart of session.Context's in-memory bounded
// history.
func (r *Repository) ListRecent(ctx context.Context, n int) ([]event.SessionSnapshot, error) {
	if n <= 0 {
		n = 32
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, status, log_count, updated_at, summary FROM sessions ORDER BY updated_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("index: listing recent sessions: %w", err)
	}
	defer rows.Close()

	var out []event.SessionSnapshot
	for rows.Next() {
		var (
			snapshot event.SessionSnapshot
			kind     string
		)
		if err := rows.Scan(&snapshot.SessionID, &kind, &snapshot.Status, &snapshot.LogCount, &snapshot.UpdatedAt, &snapshot.Summary); err != nil {
			return nil, fmt.Errorf("index: scanning session row: %w", err)
		}
		snapshot.Kind = event.ExecutorKind(kind)
		out = append(out, snapshot)
	}
	return out, rows.Err()
}
