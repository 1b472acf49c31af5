package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Create inserts a new queued item for a tenant. Items are deduplicated on
// (tenant_id, source_key): when the key already exists the stored item is
// returned and created reports false.
func (s *Store) Create(ctx context.Context, tenantID, sourceKey, title, summary string) (*Item, bool, error) {
	if tenantID == "" {
		return nil, false, errors.New("tenant id is required")
	}
	if sourceKey == "" {
		return nil, false, errors.New("source key is required")
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO work_items (
            id, tenant_id, source_key, title, summary, status,
            retry_count, regen_count, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
        ON CONFLICT (tenant_id, source_key) DO NOTHING`,
		id,
		tenantID,
		sourceKey,
		title,
		nullableString(summary),
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		existing, err := s.FindBySource(ctx, tenantID, sourceKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	item, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

// GetByID fetches a work item by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// FindBySource returns the item matching a tenant's source key.
func (s *Store) FindBySource(ctx context.Context, tenantID, sourceKey string) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE tenant_id = ? AND source_key = ? LIMIT 1`,
		tenantID,
		sourceKey,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by source: %w", err)
	}
	return item, nil
}

// List returns work items filtered by status set (or all items when no status
// is provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	baseQuery := `SELECT ` + itemColumns + ` FROM work_items`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListByTenant returns a tenant's items filtered by status set, oldest first.
func (s *Store) ListByTenant(ctx context.Context, tenantID string, statuses ...Status) ([]*Item, error) {
	baseQuery := `SELECT ` + itemColumns + ` FROM work_items WHERE tenant_id = ?`
	orderClause := ` ORDER BY created_at, id`

	args := []any{tenantID}
	query := baseQuery
	if len(statuses) > 0 {
		placeholders := makePlaceholders(len(statuses))
		for _, status := range statuses {
			args = append(args, status)
		}
		query += ` AND status IN (` + placeholders + `)`
	}
	rows, err := s.db.QueryContext(ctx, query+orderClause, args...)
	if err != nil {
		return nil, fmt.Errorf("list tenant items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// NextForTenantStatus returns a tenant's oldest item in the given status.
func (s *Store) NextForTenantStatus(ctx context.Context, tenantID string, status Status) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE tenant_id = ? AND status = ? ORDER BY created_at, id LIMIT 1`,
		tenantID,
		status,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next for status: %w", err)
	}
	return item, nil
}

// CountByStatuses returns how many of a tenant's items sit in any of the
// provided statuses.
func (s *Store) CountByStatuses(ctx context.Context, tenantID string, statuses ...Status) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, 0, len(statuses)+1)
	args = append(args, tenantID)
	for _, status := range statuses {
		args = append(args, status)
	}

	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM work_items WHERE tenant_id = ? AND status IN (`+placeholders+`)`,
		args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by statuses: %w", err)
	}
	return count, nil
}

// Health aggregates queue counts across all tenants.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM work_items GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("queue health: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var (
			statusStr string
			count     int
		)
		if err := rows.Scan(&statusStr, &count); err != nil {
			return HealthSummary{}, err
		}
		summary.Total += count
		switch Status(statusStr) {
		case StatusQueued:
			summary.Queued += count
		case StatusScripting, StatusAssetsReady, StatusRendering, StatusUploading:
			summary.InProgress += count
		case StatusCompleted:
			summary.Completed += count
		case StatusUploaded:
			summary.Uploaded += count
		case StatusFailed:
			summary.Failed += count
		case StatusQuotaBlocked:
			summary.QuotaBlocked += count
		}
	}
	return summary, rows.Err()
}

// Remove deletes an item by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM work_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
