package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mise-erp/mise-erp/internal/shared"
)

// NewIdempotencyCleanupHandler builds the handler that prunes idempotency
// keys older than the retention window.
func NewIdempotencyCleanupHandler(logger *slog.Logger, store *shared.IdempotencyStore, olderThan time.Duration) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ScheduledPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := store.Cleanup(ctx, olderThan); err != nil {
			return err
		}
		logger.Info("idempotency cleanup finished", slog.Duration("older_than", olderThan))
		return nil
	}
}
