package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists the actor directory and the audit trail.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the two tables this service owns. The schema is
// small enough that idempotent DDL beats a migrations directory.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS actors (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			platform TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			action TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_name TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS audit_events_document_idx
			ON audit_events (document_id, created_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListActors(ctx context.Context) ([]Actor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, email, role, platform, created_at
		 FROM actors ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()

	var actors []Actor
	for rows.Next() {
		var a Actor
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.Email, &a.Role, &a.Platform, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}

func (s *PostgresStore) GetActor(ctx context.Context, id string) (Actor, error) {
	var a Actor
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, role, platform, created_at
		 FROM actors WHERE id = $1`, id).
		Scan(&a.ID, &a.DisplayName, &a.Email, &a.Role, &a.Platform, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Actor{}, ErrNotFound
	}
	if err != nil {
		return Actor{}, fmt.Errorf("get actor: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) EnsureActor(ctx context.Context, actor Actor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actors (id, display_name, email, role, platform)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		actor.ID, actor.DisplayName, actor.Email, actor.Role, actor.Platform)
	if err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, document_id, action, actor_id, actor_name, detail)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.DocumentID, event.Action, event.ActorID, event.ActorName, event.Detail)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, documentID string, limit int) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, action, actor_id, actor_name, detail, created_at
		 FROM audit_events WHERE document_id = $1
		 ORDER BY created_at DESC LIMIT $2`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var items []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Action, &e.ActorID, &e.ActorName, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
