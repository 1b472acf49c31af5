package services

import "context"

// Scene is one narrated beat of a generated script.
type Scene struct {
	Narration  string  `json:"narration"`
	SearchTerm string  `json:"search_term"`
	Seconds    float64 `json:"seconds"`
}

// Script is the output of the script-generation collaborator.
type Script struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Sources     []string `json:"sources"`
	Scenes      []Scene  `json:"scenes"`
}

// SubtitleRange is one timed caption segment.
type SubtitleRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Assets is the output of the stock-footage collaborator.
type Assets struct {
	ClipPaths      []string        `json:"clip_paths"`
	Durations      []float64       `json:"durations"`
	SubtitleRanges []SubtitleRange `json:"subtitle_ranges"`
}

// UploadMeta carries the publish metadata for a rendered file.
type UploadMeta struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
}

// UploadFailure is the payload carried on upload-failed events so the
// recovery coordinator can act without re-probing the provider.
type UploadFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// ScriptService generates a narrated script from an ingested headline.
type ScriptService interface {
	Generate(ctx context.Context, title, summary string) (*Script, error)
}

// AssetService resolves script scenes into downloaded clips and captions.
type AssetService interface {
	Fetch(ctx context.Context, scenes []Scene) (*Assets, error)
}

// RenderService composes assets into a final video file.
type RenderService interface {
	Render(ctx context.Context, assets *Assets, mood string) (string, error)
}

// UploadService publishes a rendered file and returns the external URL.
// Quota exhaustion is reported as an error matching ErrQuotaExhausted.
type UploadService interface {
	Upload(ctx context.Context, filePath string, meta UploadMeta) (string, error)
}
