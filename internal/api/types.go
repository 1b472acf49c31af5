package api

import "time"

// ItemView is the wire representation of a work item.
type ItemView struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	SourceKey      string    `json:"source_key"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	RenderedFile   string    `json:"rendered_file,omitempty"`
	UploadURL      string    `json:"upload_url,omitempty"`
	FailureStage   string    `json:"failure_stage,omitempty"`
	FailureMessage string    `json:"failure_message,omitempty"`
	RetryCount     int       `json:"retry_count"`
	RegenCount     int       `json:"regen_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// QueueCounts mirrors the queue health summary.
type QueueCounts struct {
	Total        int `json:"total"`
	Queued       int `json:"queued"`
	InProgress   int `json:"in_progress"`
	Completed    int `json:"completed"`
	Uploaded     int `json:"uploaded"`
	Failed       int `json:"failed"`
	QuotaBlocked int `json:"quota_blocked"`
}

// StageHealthView reports one handler's readiness.
type StageHealthView struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// StatusResponse is the payload for GET /api/status.
type StatusResponse struct {
	Running        bool              `json:"running"`
	Tenant         string            `json:"tenant"`
	LastError      string            `json:"last_error,omitempty"`
	Queue          QueueCounts       `json:"queue"`
	QuotaRemaining int               `json:"quota_remaining"`
	Stages         []StageHealthView `json:"stages"`
	QueueDBPath    string            `json:"queue_db_path,omitempty"`
	LockFilePath   string            `json:"lock_file_path,omitempty"`
}

// DeadLetterView is the wire representation of a parked event.
type DeadLetterView struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	ItemID    string    `json:"item_id"`
	TenantID  string    `json:"tenant_id"`
	GroupName string    `json:"group_name"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	DeadAt    time.Time `json:"dead_at"`
}

// ItemListResponse is the payload for GET /api/items.
type ItemListResponse struct {
	Items []ItemView `json:"items"`
}

// ItemResponse is the payload for single-item endpoints.
type ItemResponse struct {
	Item ItemView `json:"item"`
}

// DeadLetterListResponse is the payload for GET /api/deadletters.
type DeadLetterListResponse struct {
	DeadLetters []DeadLetterView `json:"dead_letters"`
}

// RequeueResponse is the payload for POST /api/deadletters/{id}/requeue.
type RequeueResponse struct {
	Topic  string `json:"topic"`
	ItemID string `json:"item_id"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}
