package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"newsreel/internal/config"
)

// Ledger tracks per-tenant upload quota consumption inside rolling daily
// windows. Windows open at a fixed UTC hour and consumption resets when the
// window rolls over; nothing carries across windows.
type Ledger struct {
	db          *sql.DB
	path        string
	windowUnits int
	uploadCost  int
	resetHour   int
	now         func() time.Time
}

// Option customizes a ledger.
type Option func(*Ledger)

// WithClock overrides the ledger's time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Open initializes or connects to the quota database under the data directory.
func Open(cfg *config.Config, opts ...Option) (*Ledger, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "quota.db"), cfg.Quota, opts...)
}

// OpenPath initializes or connects to a quota database at an explicit path.
func OpenPath(dbPath string, cfg config.Quota, opts ...Option) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open quota db: %w", err)
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

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS quota_ledger (
        tenant_id TEXT PRIMARY KEY,
        window_start TEXT NOT NULL,
        used_units INTEGER NOT NULL DEFAULT 0
    )`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create quota schema: %w", err)
	}

	ledger := &Ledger{
		db:          db,
		path:        dbPath,
		windowUnits: cfg.WindowUnits,
		uploadCost:  cfg.UploadCost,
		resetHour:   cfg.ResetHourUTC,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// UploadCost returns the configured unit cost of one upload.
func (l *Ledger) UploadCost() int {
	return l.uploadCost
}

// WindowStart returns the opening instant of the window containing the given
// time: the most recent occurrence of the reset hour, truncated to the hour.
func (l *Ledger) WindowStart(at time.Time) time.Time {
	at = at.UTC()
	start := time.Date(at.Year(), at.Month(), at.Day(), l.resetHour, 0, 0, 0, time.UTC)
	if at.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// WindowElapsedSince reports whether the current window opened after the given
// instant. Items blocked on quota before the rollover may be released.
func (l *Ledger) WindowElapsedSince(at time.Time) bool {
	return l.WindowStart(l.now()).After(at.UTC())
}

// Reserve consumes one upload's worth of units for the tenant in the current
// window. Reports false without consuming anything when the reservation would
// exceed the window budget.
func (l *Ledger) Reserve(ctx context.Context, tenantID string) (bool, error) {
	return l.adjust(ctx, tenantID, l.uploadCost)
}

// Release refunds one upload's worth of units, floored at zero, when an upload
// that reserved quota fails before consuming it upstream.
func (l *Ledger) Release(ctx context.Context, tenantID string) error {
	_, err := l.adjust(ctx, tenantID, -l.uploadCost)
	return err
}

// Remaining returns the tenant's unused units in the current window.
func (l *Ledger) Remaining(ctx context.Context, tenantID string) (int, error) {
	used, _, err := l.currentUsage(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	remaining := l.windowUnits - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *Ledger) adjust(ctx context.Context, tenantID string, delta int) (bool, error) {
	if tenantID == "" {
		return false, errors.New("tenant id is required")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin quota tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	windowStart := l.WindowStart(l.now()).Format(time.RFC3339)

	var (
		storedWindow string
		used         int
	)
	err = tx.QueryRowContext(
		ctx,
		`SELECT window_start, used_units FROM quota_ledger WHERE tenant_id = ?`,
		tenantID,
	).Scan(&storedWindow, &used)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		used = 0
	case err != nil:
		return false, fmt.Errorf("read quota row: %w", err)
	case storedWindow != windowStart:
		// Window rolled over: consumption resets.
		used = 0
	}

	next := used + delta
	if next < 0 {
		next = 0
	}
	if delta > 0 && next > l.windowUnits {
		return false, nil
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO quota_ledger (tenant_id, window_start, used_units) VALUES (?, ?, ?)
         ON CONFLICT (tenant_id) DO UPDATE SET window_start = excluded.window_start, used_units = excluded.used_units`,
		tenantID,
		windowStart,
		next,
	); err != nil {
		return false, fmt.Errorf("write quota row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit quota tx: %w", err)
	}
	return true, nil
}

func (l *Ledger) currentUsage(ctx context.Context, tenantID string) (int, string, error) {
	windowStart := l.WindowStart(l.now()).Format(time.RFC3339)
	var (
		storedWindow string
		used         int
	)
	err := l.db.QueryRowContext(
		ctx,
		`SELECT window_start, used_units FROM quota_ledger WHERE tenant_id = ?`,
		tenantID,
	).Scan(&storedWindow, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, windowStart, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read quota row: %w", err)
	}
	if storedWindow != windowStart {
		return 0, windowStart, nil
	}
	return used, windowStart, nil
}
