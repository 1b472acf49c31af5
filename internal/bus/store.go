package bus

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"newsreel/internal/config"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates the bus database schema version doesn't match
// the expected version.
var ErrSchemaMismatch = errors.New("bus schema version mismatch")

// Bus is the SQLite-backed event log with consumer-group offsets and a
// dead-letter table.
type Bus struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the bus database under the data directory.
func Open(cfg *config.Config) (*Bus, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "bus.db"))
}

// OpenPath initializes or connects to a bus database at an explicit path.
func OpenPath(dbPath string) (*Bus, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open bus db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	b := &Bus{db: db, path: dbPath}
	if err := b.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) initSchema(ctx context.Context) error {
	var tableExists int
	err := b.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create bus schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record bus schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := b.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read bus schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Close closes the underlying database connection.
func (b *Bus) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Publish appends an event to the log. The payload, when non-nil, is stored as
// JSON. Append order is delivery order for every consumer group.
func (b *Bus) Publish(ctx context.Context, topic, itemID, tenantID string, payload any) (*Event, error) {
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if itemID == "" {
		return nil, errors.New("item id is required")
	}

	var payloadText string
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		payloadText = string(raw)
	}

	now := time.Now().UTC()
	res, err := b.db.ExecContext(
		ctx,
		`INSERT INTO bus_events (topic, item_id, tenant_id, payload, published_at) VALUES (?, ?, ?, ?, ?)`,
		topic,
		itemID,
		tenantID,
		payloadText,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("publish event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &Event{ID: id, Topic: topic, ItemID: itemID, TenantID: tenantID, Payload: payloadText, PublishedAt: now}, nil
}

// NextEvents returns up to limit undelivered events on a topic for the given
// consumer group, oldest first.
func (b *Bus) NextEvents(ctx context.Context, group, topic string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 10
	}
	offset, err := b.offset(ctx, group, topic)
	if err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(
		ctx,
		`SELECT id, topic, item_id, tenant_id, payload, published_at
         FROM bus_events WHERE topic = ? AND id > ? ORDER BY id LIMIT ?`,
		topic,
		offset,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Commit advances the consumer group's offset past the given event.
func (b *Bus) Commit(ctx context.Context, group, topic string, eventID int64) error {
	_, err := b.db.ExecContext(
		ctx,
		`INSERT INTO bus_offsets (group_name, topic, last_event_id, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (group_name, topic) DO UPDATE SET
             last_event_id = MAX(last_event_id, excluded.last_event_id),
             updated_at = excluded.updated_at`,
		group,
		topic,
		eventID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}
	return nil
}

func (b *Bus) offset(ctx context.Context, group, topic string) (int64, error) {
	var offset int64
	err := b.db.QueryRowContext(
		ctx,
		`SELECT last_event_id FROM bus_offsets WHERE group_name = ? AND topic = ?`,
		group,
		topic,
	).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read offset: %w", err)
	}
	return offset, nil
}

// ParkDeadLetter records an event whose delivery retries were exhausted.
func (b *Bus) ParkDeadLetter(ctx context.Context, event Event, group string, attempts int, lastErr error) (*DeadLetter, error) {
	message := ""
	if lastErr != nil {
		message = lastErr.Error()
	}
	now := time.Now().UTC()
	res, err := b.db.ExecContext(
		ctx,
		`INSERT INTO bus_dead_letters (event_id, topic, item_id, tenant_id, payload, group_name, attempts, last_error, dead_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Topic,
		event.ItemID,
		event.TenantID,
		event.Payload,
		group,
		attempts,
		message,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("park dead letter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &DeadLetter{
		ID:        id,
		EventID:   event.ID,
		Topic:     event.Topic,
		ItemID:    event.ItemID,
		TenantID:  event.TenantID,
		Payload:   event.Payload,
		GroupName: group,
		Attempts:  attempts,
		LastError: message,
		DeadAt:    now,
	}, nil
}

// DeadLetters lists parked events, newest first.
func (b *Bus) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := b.db.QueryContext(
		ctx,
		`SELECT id, event_id, topic, item_id, tenant_id, payload, group_name, attempts, last_error, dead_at
         FROM bus_dead_letters ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var (
			letter    DeadLetter
			lastError sql.NullString
			deadRaw   string
		)
		if err := rows.Scan(
			&letter.ID,
			&letter.EventID,
			&letter.Topic,
			&letter.ItemID,
			&letter.TenantID,
			&letter.Payload,
			&letter.GroupName,
			&letter.Attempts,
			&lastError,
			&deadRaw,
		); err != nil {
			return nil, err
		}
		letter.LastError = lastError.String
		if parsed, err := time.Parse(time.RFC3339Nano, deadRaw); err == nil {
			letter.DeadAt = parsed
		}
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

// RequeueDeadLetter republishes a parked event on its original topic and
// removes it from the dead-letter table. Returns the new event, or nil when
// the dead letter does not exist.
func (b *Bus) RequeueDeadLetter(ctx context.Context, id int64) (*Event, error) {
	row := b.db.QueryRowContext(
		ctx,
		`SELECT topic, item_id, tenant_id, payload FROM bus_dead_letters WHERE id = ?`,
		id,
	)
	var (
		topic    string
		itemID   string
		tenantID string
		payload  sql.NullString
	)
	if err := row.Scan(&topic, &itemID, &tenantID, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dead letter: %w", err)
	}

	now := time.Now().UTC()
	res, err := b.db.ExecContext(
		ctx,
		`INSERT INTO bus_events (topic, item_id, tenant_id, payload, published_at) VALUES (?, ?, ?, ?, ?)`,
		topic,
		itemID,
		tenantID,
		payload.String,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("requeue event: %w", err)
	}
	eventID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM bus_dead_letters WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete dead letter: %w", err)
	}
	return &Event{ID: eventID, Topic: topic, ItemID: itemID, TenantID: tenantID, Payload: payload.String, PublishedAt: now}, nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (Event, error) {
	var (
		event        Event
		payload      sql.NullString
		publishedRaw string
	)
	if err := scanner.Scan(&event.ID, &event.Topic, &event.ItemID, &event.TenantID, &payload, &publishedRaw); err != nil {
		return Event{}, err
	}
	event.Payload = payload.String
	if parsed, err := time.Parse(time.RFC3339Nano, publishedRaw); err == nil {
		event.PublishedAt = parsed
	}
	return event, nil
}
