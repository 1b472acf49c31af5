package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrMissingArtifact = errors.New("missing artifact")
	ErrQuotaExhausted  = errors.New("quota exhausted")
	ErrPermanent       = errors.New("permanent failure")
	ErrTimeout         = errors.New("timeout")
	ErrTransient       = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureKind describes the recovery class of a stage error.
type FailureKind string

const (
	FailureTransient       FailureKind = "transient"
	FailureQuotaExhausted  FailureKind = "quota_exhausted"
	FailureMissingArtifact FailureKind = "missing_artifact"
	FailurePermanent       FailureKind = "permanent"
)

// Classify maps a stage error to the recovery class the coordinators act on.
// Validation and configuration errors are permanent: retrying the same input
// cannot fix them.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, ErrQuotaExhausted):
		return FailureQuotaExhausted
	case errors.Is(err, ErrMissingArtifact):
		return FailureMissingArtifact
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrPermanent):
		return FailurePermanent
	default:
		return FailureTransient
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
