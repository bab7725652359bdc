package sentinel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteTimeLayout is fixed-width so lexicographic comparison on the text
// column matches chronological order. RFC3339Nano trims trailing zeros and
// breaks that property for mixed-precision rows.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS security_events (
	id         TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	ip         TEXT NOT NULL DEFAULT '',
	severity   TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	timestamp  TEXT NOT NULL,
	geo        TEXT
);
CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events (timestamp);
CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events (event_type);
`

// SQLiteEventStore persists processed events in a local SQLite database so
// history survives restarts. The retained set is capped like the in-memory
// store; inserts trim the oldest rows beyond the cap.
type SQLiteEventStore struct {
	db  *sqlx.DB
	max int
}

type eventRow struct {
	ID        string         `db:"id"`
	EventType string         `db:"event_type"`
	IP        string         `db:"ip"`
	Severity  string         `db:"severity"`
	Detail    string         `db:"detail"`
	Timestamp string         `db:"timestamp"`
	Geo       sql.NullString `db:"geo"`
}

// NewSQLiteEventStore opens (creating if needed) the database at path and
// applies the schema. max <= 0 falls back to DefaultMaxEvents.
func NewSQLiteEventStore(path string, max int) (*SQLiteEventStore, error) {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// SQLite allows one writer; a pool of connections only causes lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteEventStore{db: db, max: max}, nil
}

func (s *SQLiteEventStore) Add(ctx context.Context, ev SecurityEvent) error {
	row, err := rowFromEvent(ev)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO security_events (id, event_type, ip, severity, detail, timestamp, geo)
		VALUES (:id, :event_type, :ip, :severity, :detail, :timestamp, :geo)`, row)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM security_events WHERE id NOT IN (
			SELECT id FROM security_events ORDER BY timestamp DESC, id DESC LIMIT ?
		)`, s.max)
	if err != nil {
		return fmt.Errorf("trim event store: %w", err)
	}
	return nil
}

func (s *SQLiteEventStore) All(ctx context.Context, limit int) ([]SecurityEvent, error) {
	return s.query(ctx, time.Time{}, limit)
}

func (s *SQLiteEventStore) Recent(ctx context.Context, since time.Time, limit int) ([]SecurityEvent, error) {
	return s.query(ctx, since, limit)
}

func (s *SQLiteEventStore) query(ctx context.Context, since time.Time, limit int) ([]SecurityEvent, error) {
	if limit <= 0 {
		limit = s.max
	}
	var rows []eventRow
	var err error
	if since.IsZero() {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, event_type, ip, severity, detail, timestamp, geo
			FROM security_events ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, event_type, ip, severity, detail, timestamp, geo
			FROM security_events WHERE timestamp >= ?
			ORDER BY timestamp DESC, id DESC LIMIT ?`, since.UTC().Format(sqliteTimeLayout), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	out := make([]SecurityEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *SQLiteEventStore) CountByType(ctx context.Context, t EventType, since time.Time) (int, error) {
	var count int
	var err error
	if since.IsZero() {
		err = s.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM security_events WHERE event_type = ?`, string(t))
	} else {
		err = s.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM security_events WHERE event_type = ? AND timestamp >= ?`,
			string(t), since.UTC().Format(sqliteTimeLayout))
	}
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (s *SQLiteEventStore) Last(ctx context.Context) (*SecurityEvent, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, event_type, ip, severity, detail, timestamp, geo
		FROM security_events ORDER BY timestamp DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last event: %w", err)
	}
	ev, err := row.toEvent()
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *SQLiteEventStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteEventStore) Close() error { return s.db.Close() }

func rowFromEvent(ev SecurityEvent) (eventRow, error) {
	row := eventRow{
		ID:        ev.ID,
		EventType: string(ev.Type),
		IP:        ev.IP,
		Severity:  string(ev.Severity),
		Detail:    ev.Detail,
		Timestamp: ev.Timestamp.UTC().Format(sqliteTimeLayout),
	}
	if ev.Geo != nil {
		data, err := json.Marshal(ev.Geo)
		if err != nil {
			return eventRow{}, fmt.Errorf("marshal geo for event %s: %w", ev.ID, err)
		}
		row.Geo = sql.NullString{String: string(data), Valid: true}
	}
	return row, nil
}

func (r eventRow) toEvent() (SecurityEvent, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return SecurityEvent{}, fmt.Errorf("parse timestamp for event %s: %w", r.ID, err)
	}
	ev := SecurityEvent{
		ID:        r.ID,
		Type:      EventType(r.EventType),
		IP:        r.IP,
		Severity:  Severity(r.Severity),
		Detail:    r.Detail,
		Timestamp: ts,
	}
	if r.Geo.Valid && r.Geo.String != "" {
		var geo GeoRecord
		if err := json.Unmarshal([]byte(r.Geo.String), &geo); err != nil {
			return SecurityEvent{}, fmt.Errorf("decode geo for event %s: %w", r.ID, err)
		}
		ev.Geo = &geo
	}
	return ev, nil
}
