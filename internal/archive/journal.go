// Package archive keeps an append-only Postgres journal of committed
// canvas mutations, so activity can be shown across sessions. It is
// best-effort: the journal never fails a mutation through to an editor.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Event struct {
	CanvasID  string
	ShapeID   string
	Action    string
	Actor     string
	ActorName string
	At        time.Time
}

type Journal struct {
	db *sql.DB
}

// Open connects to Postgres and ensures the journal table exists.
func Open(ctx context.Context, databaseURL string) (*Journal, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	j := &Journal{db: db}
	if err := j.ensureTable(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func NewWithDB(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) ensureTable(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS canvas_journal (
			id BIGSERIAL PRIMARY KEY,
			canvas_id TEXT NOT NULL,
			shape_id TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			actor_name TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure canvas_journal: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS canvas_journal_canvas_idx
		ON canvas_journal (canvas_id, occurred_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("ensure canvas_journal index: %w", err)
	}
	return nil
}

// Record appends one event.
func (j *Journal) Record(ctx context.Context, e Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO canvas_journal (canvas_id, shape_id, action, actor, actor_name, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.CanvasID, e.ShapeID, e.Action, e.Actor, e.ActorName, at)
	if err != nil {
		return fmt.Errorf("record journal event: %w", err)
	}
	return nil
}

// Recent returns the newest events for a canvas, newest first.
func (j *Journal) Recent(ctx context.Context, canvasID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT canvas_id, shape_id, action, actor, actor_name, occurred_at
		FROM canvas_journal
		WHERE canvas_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, canvasID, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.CanvasID, &e.ShapeID, &e.Action, &e.Actor, &e.ActorName, &e.At); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return events, nil
}
