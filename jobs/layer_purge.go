package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mise-erp/mise-erp/internal/costing"
)

// NewLayerPurgeHandler builds the handler that deletes exhausted cost layers
// older than the retention window.
func NewLayerPurgeHandler(logger *slog.Logger, pool *pgxpool.Pool, retentionDays int) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ScheduledPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		purged, err := costing.NewStore(pool).PurgeExhausted(ctx, retentionDays)
		if err != nil {
			return err
		}
		logger.Info("cost layer purge finished",
			slog.Int64("purged", purged),
			slog.Int("retention_days", retentionDays))
		return nil
	}
}
