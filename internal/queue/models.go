package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a work item.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusScripting    Status = "scripting"
	StatusAssetsReady  Status = "assets_ready"
	StatusRendering    Status = "rendering"
	StatusCompleted    Status = "completed"
	StatusUploading    Status = "uploading"
	StatusUploaded     Status = "uploaded"
	StatusFailed       Status = "failed"
	StatusQuotaBlocked Status = "quota_blocked"
)

var allStatuses = []Status{
	StatusQueued,
	StatusScripting,
	StatusAssetsReady,
	StatusRendering,
	StatusCompleted,
	StatusUploading,
	StatusUploaded,
	StatusFailed,
	StatusQuotaBlocked,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// inProgressStatuses are the statuses the staleness sweep treats as abandoned
// when updated_at falls behind the cutoff.
var inProgressStatuses = map[Status]struct{}{
	StatusScripting:   {},
	StatusAssetsReady: {},
	StatusRendering:   {},
	StatusUploading:   {},
}

// activeStatuses count against the tenant's in-flight buffer.
var activeStatuses = []Status{
	StatusQueued,
	StatusScripting,
	StatusAssetsReady,
	StatusRendering,
	StatusCompleted,
	StatusUploading,
	StatusQuotaBlocked,
}

// legalTransitions is the full transition table. Every status mutation in the
// system, operator force actions included, must match one of these edges. The
// backward edges out of scripting and rendering release a claim after a
// retryable stage failure so the next delivery can claim again.
var legalTransitions = map[Status][]Status{
	StatusQueued:       {StatusScripting, StatusFailed},
	StatusScripting:    {StatusAssetsReady, StatusQueued, StatusFailed},
	StatusAssetsReady:  {StatusRendering, StatusFailed},
	StatusRendering:    {StatusCompleted, StatusAssetsReady, StatusFailed},
	StatusCompleted:    {StatusUploading, StatusFailed},
	StatusUploading:    {StatusUploaded, StatusCompleted, StatusQuotaBlocked, StatusFailed},
	StatusQuotaBlocked: {StatusCompleted, StatusFailed},
	StatusFailed:       {StatusQueued},
}

// stageForStatus maps an in-progress status to the stage recorded on failure.
var stageForStatus = map[Status]string{
	StatusScripting:   "script",
	StatusAssetsReady: "assets",
	StatusRendering:   "render",
	StatusUploading:   "upload",
}

// Item represents a work item persisted in SQLite.
type Item struct {
	ID             string
	TenantID       string
	SourceKey      string
	Title          string
	Summary        string
	Status         Status
	ScriptJSON     string
	AssetsJSON     string
	RenderedFile   string
	UploadURL      string
	FailureStage   string
	FailureMessage string
	RetryCount     int
	RegenCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ActiveStatuses returns the statuses that occupy a tenant's in-flight buffer.
func ActiveStatuses() []Status {
	cp := make([]Status, len(activeStatuses))
	copy(cp, activeStatuses)
	return cp
}

// InProgressStatuses returns the statuses subject to the staleness sweep.
func InProgressStatuses() []Status {
	out := make([]Status, 0, len(inProgressStatuses))
	for _, status := range allStatuses {
		if _, ok := inProgressStatuses[status]; ok {
			out = append(out, status)
		}
	}
	return out
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// CanTransition reports whether the (from, to) edge exists in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StageForStatus returns the stage name recorded when an item fails out of the
// given in-progress status.
func StageForStatus(status Status) string {
	return stageForStatus[status]
}

// IsInProgress reports whether a status reflects an in-flight handler.
func IsInProgress(status Status) bool {
	_, ok := inProgressStatuses[status]
	return ok
}

// IsTerminal reports whether a status ends the item's lifecycle. Failed items
// are terminal for the attempt but may be revived by regeneration.
func IsTerminal(status Status) bool {
	return status == StatusUploaded
}

// SetFailure records failure detail on the item.
func (i *Item) SetFailure(stage, message string) {
	i.FailureStage = stage
	i.FailureMessage = message
}

// ClearFailure removes failure detail after a successful retry or regeneration.
func (i *Item) ClearFailure() {
	i.FailureStage = ""
	i.FailureMessage = ""
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total        int
	Queued       int
	InProgress   int
	Completed    int
	Uploaded     int
	Failed       int
	QuotaBlocked int
}
