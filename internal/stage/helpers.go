package stage

import (
	"context"
	"encoding/json"
	"log/slog"

	"newsreel/internal/logging"
	"newsreel/internal/notifications"
	"newsreel/internal/queue"
	"newsreel/internal/services"
)

// failPermanently marks the item failed for errors that retrying the same
// input cannot fix. Returning nil afterwards commits the event so the bus does
// not burn delivery retries on it.
func failPermanently(ctx context.Context, store *queue.Store, notifier notifications.Service, logger *slog.Logger, item *queue.Item, stageName string, cause error) error {
	failed, ok, err := store.MarkFailed(ctx, item.ID, stageName, cause.Error())
	if err != nil {
		return err
	}
	if ok {
		logger.Error("stage failed permanently",
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldStage, stageName),
			logging.Error(cause))
		if notifier != nil {
			_ = notifier.NotifyStageFailure(ctx, failed.TenantID, failed.Title, stageName, cause)
		}
	}
	return nil
}

// dispatchFailure routes a collaborator error for a stage that holds no claim:
// permanent classes fail the item immediately, everything else is returned so
// the bus retry policy applies.
func dispatchFailure(ctx context.Context, store *queue.Store, notifier notifications.Service, logger *slog.Logger, item *queue.Item, stageName string, cause error) error {
	if services.Classify(cause) == services.FailurePermanent {
		return failPermanently(ctx, store, notifier, logger, item, stageName, cause)
	}
	return cause
}

// dispatchClaimedFailure does the same for a claiming stage. The claim is
// released back to its pre-stage status first: a held claim would make the
// next delivery lose the CAS and commit without calling the collaborator.
func dispatchClaimedFailure(ctx context.Context, store *queue.Store, notifier notifications.Service, logger *slog.Logger, item *queue.Item, stageName string, held, released queue.Status, cause error) error {
	if services.Classify(cause) == services.FailurePermanent {
		return failPermanently(ctx, store, notifier, logger, item, stageName, cause)
	}
	if _, ok, err := store.Transition(ctx, item.ID, held, released, nil); err != nil {
		return err
	} else if !ok {
		// The sweep or an operator moved the item first.
		logger.Warn("claim already gone before release",
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldStage, stageName))
	}
	return cause
}

func decodeScript(raw string) (*services.Script, error) {
	if raw == "" {
		return nil, services.Wrap(services.ErrMissingArtifact, "stage", "decode script", "item has no stored script", nil)
	}
	var script services.Script
	if err := json.Unmarshal([]byte(raw), &script); err != nil {
		return nil, services.Wrap(services.ErrValidation, "stage", "decode script", "stored script is not valid JSON", err)
	}
	return &script, nil
}

func decodeAssets(raw string) (*services.Assets, error) {
	if raw == "" {
		return nil, services.Wrap(services.ErrMissingArtifact, "stage", "decode assets", "item has no stored assets", nil)
	}
	var assets services.Assets
	if err := json.Unmarshal([]byte(raw), &assets); err != nil {
		return nil, services.Wrap(services.ErrValidation, "stage", "decode assets", "stored assets are not valid JSON", err)
	}
	return &assets, nil
}

func encodeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "stage", "encode payload", "marshal artifact", err)
	}
	return string(raw), nil
}
