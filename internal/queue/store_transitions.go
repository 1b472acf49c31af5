package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition indicates a requested status change has no edge in the
// transition table.
var ErrIllegalTransition = errors.New("illegal status transition")

// Transition atomically moves an item from one status to another. The mutate
// callback, when provided, adjusts the item's payload fields before the write.
// The UPDATE is conditioned on the from status, so a concurrent claimant loses
// cleanly: claimed reports false and the caller must drop the work.
func (s *Store) Transition(ctx context.Context, id string, from, to Status, mutate func(*Item)) (*Item, bool, error) {
	if !CanTransition(from, to) {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	item, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if item == nil {
		return nil, false, fmt.Errorf("item %s not found", id)
	}
	if item.Status != from {
		return item, false, nil
	}

	item.Status = to
	if mutate != nil {
		mutate(item)
	}
	item.UpdatedAt = time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, title = ?, summary = ?, script_json = ?, assets_json = ?,
             rendered_file = ?, upload_url = ?, failure_stage = ?, failure_message = ?,
             retry_count = ?, regen_count = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		item.Status,
		item.Title,
		nullableString(item.Summary),
		nullableString(item.ScriptJSON),
		nullableString(item.AssetsJSON),
		nullableString(item.RenderedFile),
		nullableString(item.UploadURL),
		nullableString(item.FailureStage),
		nullableString(item.FailureMessage),
		item.RetryCount,
		item.RegenCount,
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
		from,
	)
	if err != nil {
		return nil, false, fmt.Errorf("transition item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}
	return item, true, nil
}

// UpdateIfStatus applies mutate and persists the item's payload fields while
// it remains in the expected status. Used by the assets stage, which owns no
// processing status of its own: the write is dropped when the item moved.
func (s *Store) UpdateIfStatus(ctx context.Context, id string, expect Status, mutate func(*Item)) (*Item, bool, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if item == nil {
		return nil, false, fmt.Errorf("item %s not found", id)
	}
	if item.Status != expect {
		return item, false, nil
	}

	if mutate != nil {
		mutate(item)
	}
	item.Status = expect
	item.UpdatedAt = time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET title = ?, summary = ?, script_json = ?, assets_json = ?,
             rendered_file = ?, upload_url = ?, failure_stage = ?, failure_message = ?,
             retry_count = ?, regen_count = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		item.Title,
		nullableString(item.Summary),
		nullableString(item.ScriptJSON),
		nullableString(item.AssetsJSON),
		nullableString(item.RenderedFile),
		nullableString(item.UploadURL),
		nullableString(item.FailureStage),
		nullableString(item.FailureMessage),
		item.RetryCount,
		item.RegenCount,
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
		expect,
	)
	if err != nil {
		return nil, false, fmt.Errorf("update item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}
	return item, true, nil
}

// MarkFailed moves an item into the failed status from whatever non-terminal
// status it currently holds, recording the failing stage and message. Returns
// false when the item is already terminal or failed.
func (s *Store) MarkFailed(ctx context.Context, id, stage, message string) (*Item, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		item, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if item == nil {
			return nil, false, fmt.Errorf("item %s not found", id)
		}
		if item.Status == StatusFailed || !CanTransition(item.Status, StatusFailed) {
			return item, false, nil
		}

		failed, claimed, err := s.Transition(ctx, id, item.Status, StatusFailed, func(it *Item) {
			it.SetFailure(stage, message)
		})
		if err != nil {
			return nil, false, err
		}
		if claimed {
			return failed, true, nil
		}
		// Lost a race with another writer; re-read and try again.
	}
	item, err := s.GetByID(ctx, id)
	return item, false, err
}

// SweepStale fails in-progress items whose updated_at fell behind the cutoff,
// recording the abandoned stage so recovery can pick them up.
func (s *Store) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?,
             failure_stage = CASE status
                 WHEN ? THEN ?
                 WHEN ? THEN ?
                 WHEN ? THEN ?
                 WHEN ? THEN ?
                 ELSE failure_stage
             END,
             failure_message = 'reclaimed from stale processing',
             updated_at = ?
         WHERE status IN (?, ?, ?, ?) AND updated_at < ?`,
		StatusFailed,
		StatusScripting, StageForStatus(StatusScripting),
		StatusAssetsReady, StageForStatus(StatusAssetsReady),
		StatusRendering, StageForStatus(StatusRendering),
		StatusUploading, StageForStatus(StatusUploading),
		now.Format(time.RFC3339Nano),
		StatusScripting,
		StatusAssetsReady,
		StatusRendering,
		StatusUploading,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep stale items: %w", err)
	}
	return res.RowsAffected()
}

// Touch refreshes an in-flight item's updated_at so the staleness sweep leaves
// it alone during long collaborator calls.
func (s *Store) Touch(ctx context.Context, id string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE work_items SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("touch item: %w", err)
	}
	return nil
}
