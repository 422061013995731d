package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/hallqvist/voltmine/internal/pricefeed"
	"github.com/hallqvist/voltmine/internal/supervisor"
)

// SQLite implements Store on a local sqlite file.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at path; an empty path gives an
// in-memory database.
func Open(path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite works best with a single writer connection
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return s, nil
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS price_samples(
			zone TEXT NOT NULL,
			value REAL NOT NULL,
			observed_at TIMESTAMP NOT NULL,
			stale INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_price_samples_zone ON price_samples(zone, observed_at);`,
		`CREATE TABLE IF NOT EXISTS slot_events(
			slot TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			pid INTEGER NOT NULL DEFAULT 0,
			exit_code INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_slot_events_slot ON slot_events(slot, at);`,
	}
	for _, schema := range schemas {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) RecordPrice(ctx context.Context, p pricefeed.Sample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_samples(zone, value, observed_at, stale) VALUES(?, ?, ?, ?)`,
		string(p.Zone), p.Value, p.ObservedAt.UTC(), boolInt(p.Stale))
	return err
}

func (s *SQLite) RecordTransition(ctx context.Context, t supervisor.Transition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO slot_events(slot, from_state, to_state, pid, exit_code, error, at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		t.Slot, string(t.From), string(t.To), t.PID, t.ExitCode, t.Err, t.At.UTC())
	return err
}

// RecentPrices returns up to limit samples for zone, newest first.
func (s *SQLite) RecentPrices(ctx context.Context, zone pricefeed.Zone, limit int) ([]pricefeed.Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT zone, value, observed_at, stale FROM price_samples
		 WHERE zone = ? ORDER BY observed_at DESC LIMIT ?`, string(zone), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []pricefeed.Sample
	for rows.Next() {
		var p pricefeed.Sample
		var z string
		var stale int
		if err := rows.Scan(&z, &p.Value, &p.ObservedAt, &stale); err != nil {
			return nil, err
		}
		p.Zone = pricefeed.Zone(z)
		p.Stale = stale != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentTransitions returns up to limit events, newest first. An empty slot
// matches all slots.
func (s *SQLite) RecentTransitions(ctx context.Context, slot string, limit int) ([]supervisor.Transition, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT slot, from_state, to_state, pid, exit_code, error, at
		 FROM slot_events WHERE (? = '' OR slot = ?) ORDER BY at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, slot, slot, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []supervisor.Transition
	for rows.Next() {
		var t supervisor.Transition
		var from, to string
		if err := rows.Scan(&t.Slot, &from, &to, &t.PID, &t.ExitCode, &t.Err, &t.At); err != nil {
			return nil, err
		}
		t.From = supervisor.State(from)
		t.To = supervisor.State(to)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
