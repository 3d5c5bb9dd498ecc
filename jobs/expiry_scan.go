package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/mise-erp/mise-erp/internal/jobs"
	"github.com/mise-erp/mise-erp/internal/lots"
)

// NewLotExpiryScanHandler builds the handler that flags lots expiring within
// the window. Alerts go to the log for now; kitchens read them from the log
// shipper dashboards.
func NewLotExpiryScanHandler(logger *slog.Logger, svc *lots.Service, window time.Duration, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	printer := message.NewPrinter(language.English)
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ScheduledPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		expiring, err := svc.ExpiringSoon(ctx, window)
		if err != nil {
			return err
		}
		perTenant := map[int64]int{}
		for _, lb := range expiring {
			perTenant[lb.Lot.TenantID]++
			alert := printer.Sprintf("lot %s of product %d at location %d expires %s (%v on hand)",
				lb.Lot.LotNumber, lb.Lot.ProductID, lb.Lot.LocationID,
				lb.Lot.ExpiresAt.Format("2006-01-02"), lb.Balance)
			logger.Warn("lot expiring",
				slog.Int64("tenant_id", lb.Lot.TenantID),
				slog.Int64("lot_id", lb.Lot.ID),
				slog.String("run_id", payload.RunID),
				slog.String("alert", alert))
		}
		for tenantID, count := range perTenant {
			metrics.AddExpiringLots(tenantID, count)
		}
		logger.Info("lot expiry scan finished",
			slog.Int("expiring", len(expiring)),
			slog.String("run_id", payload.RunID),
			slog.Time("scheduled_for", payload.ScheduledFor))
		return nil
	}
}
