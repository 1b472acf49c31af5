package queue

import (
	"database/sql"
	"errors"
	"time"
)

const itemColumns = "id, tenant_id, source_key, title, summary, status, script_json, assets_json, rendered_file, upload_url, failure_stage, failure_message, retry_count, regen_count, created_at, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id             string
		tenantID       string
		sourceKey      string
		title          string
		summary        sql.NullString
		statusStr      string
		scriptJSON     sql.NullString
		assetsJSON     sql.NullString
		renderedFile   sql.NullString
		uploadURL      sql.NullString
		failureStage   sql.NullString
		failureMessage sql.NullString
		retryCount     int
		regenCount     int
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&tenantID,
		&sourceKey,
		&title,
		&summary,
		&statusStr,
		&scriptJSON,
		&assetsJSON,
		&renderedFile,
		&uploadURL,
		&failureStage,
		&failureMessage,
		&retryCount,
		&regenCount,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:             id,
		TenantID:       tenantID,
		SourceKey:      sourceKey,
		Title:          title,
		Summary:        summary.String,
		Status:         Status(statusStr),
		ScriptJSON:     scriptJSON.String,
		AssetsJSON:     assetsJSON.String,
		RenderedFile:   renderedFile.String,
		UploadURL:      uploadURL.String,
		FailureStage:   failureStage.String,
		FailureMessage: failureMessage.String,
		RetryCount:     retryCount,
		RegenCount:     regenCount,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
