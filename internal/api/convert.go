package api

import (
	"sort"

	"newsreel/internal/bus"
	"newsreel/internal/queue"
	"newsreel/internal/workflow"
)

// FromItem converts a queue item to its wire representation.
func FromItem(item *queue.Item) ItemView {
	if item == nil {
		return ItemView{}
	}
	return ItemView{
		ID:             item.ID,
		TenantID:       item.TenantID,
		SourceKey:      item.SourceKey,
		Title:          item.Title,
		Status:         string(item.Status),
		RenderedFile:   item.RenderedFile,
		UploadURL:      item.UploadURL,
		FailureStage:   item.FailureStage,
		FailureMessage: item.FailureMessage,
		RetryCount:     item.RetryCount,
		RegenCount:     item.RegenCount,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}
}

// FromItems converts a slice of queue items.
func FromItems(items []*queue.Item) []ItemView {
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, FromItem(item))
	}
	return views
}

// FromStatusSummary converts the workflow snapshot. Stage entries are sorted
// by name so the payload is stable across requests.
func FromStatusSummary(summary workflow.StatusSummary) StatusResponse {
	stages := make([]StageHealthView, 0, len(summary.StageHealth))
	for name, health := range summary.StageHealth {
		stages = append(stages, StageHealthView{
			Name:   name,
			Ready:  health.Ready,
			Detail: health.Detail,
		})
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Name < stages[j].Name })

	return StatusResponse{
		Running:   summary.Running,
		Tenant:    summary.Tenant,
		LastError: summary.LastError,
		Queue: QueueCounts{
			Total:        summary.Queue.Total,
			Queued:       summary.Queue.Queued,
			InProgress:   summary.Queue.InProgress,
			Completed:    summary.Queue.Completed,
			Uploaded:     summary.Queue.Uploaded,
			Failed:       summary.Queue.Failed,
			QuotaBlocked: summary.Queue.QuotaBlocked,
		},
		QuotaRemaining: summary.QuotaRemaining,
		Stages:         stages,
	}
}

// FromDeadLetter converts a parked event to its wire representation.
func FromDeadLetter(letter bus.DeadLetter) DeadLetterView {
	return DeadLetterView{
		ID:        letter.ID,
		Topic:     letter.Topic,
		ItemID:    letter.ItemID,
		TenantID:  letter.TenantID,
		GroupName: letter.GroupName,
		Attempts:  letter.Attempts,
		LastError: letter.LastError,
		DeadAt:    letter.DeadAt,
	}
}

// FromDeadLetters converts a slice of parked events.
func FromDeadLetters(letters []bus.DeadLetter) []DeadLetterView {
	views := make([]DeadLetterView, 0, len(letters))
	for _, letter := range letters {
		views = append(views, FromDeadLetter(letter))
	}
	return views
}
