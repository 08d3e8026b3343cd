// Package audit persists an append-only trail of booking wizard
// transitions and submission attempts.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/booking-engine/internal/workflow"
)

// Event is one persisted audit row.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Operation string    `json:"operation"`
	FromStep  string    `json:"from_step,omitempty"`
	ToStep    string    `json:"to_step,omitempty"`
	Outcome   string    `json:"outcome"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// auditDB is the pgx surface the store needs; pgxmock satisfies it in
// tests.
type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store writes and reads booking audit events.
type Store struct {
	db auditDB
}

var _ workflow.AuditTrail = (*Store)(nil)

// NewStore creates a store backed by a pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("audit: pgx pool required")
	}
	return &Store{db: pool}
}

// NewStoreWithDB allows injecting a mock database for testing.
func NewStoreWithDB(db auditDB) *Store {
	return &Store{db: db}
}

// RecordTransition appends one transition event.
func (s *Store) RecordTransition(ctx context.Context, event workflow.TransitionEvent) error {
	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO booking_audit_events (
			id, session_id, operation, from_step, to_step, outcome, error_kind, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.NewString(),
		event.SessionID,
		event.Operation,
		string(event.FromStep),
		string(event.ToStep),
		event.Outcome,
		event.ErrorKind,
		event.Detail,
		at,
	)
	if err != nil {
		return fmt.Errorf("audit: insert transition event: %w", err)
	}
	return nil
}

// ListBySession returns the newest events for a session, most recent
// first.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, operation, from_step, to_step, outcome, error_kind, detail, created_at
		FROM booking_audit_events
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query session events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Operation, &e.FromStep, &e.ToStep, &e.Outcome, &e.ErrorKind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate event rows: %w", err)
	}
	return events, nil
}
