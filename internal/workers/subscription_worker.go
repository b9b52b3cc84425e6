package workers

import (
	"context"
	"time"

	"billing_backend/internal/logger"
	"billing_backend/internal/models"
	"billing_backend/internal/repositories"
	"billing_backend/internal/services"
)

// SubscriptionWorker sweeps subscriptions whose period has run out and moves
// them to EXPIRED through the same transition path user actions take, so
// version counters and the audit trail stay consistent.
type SubscriptionWorker struct {
	subRepo  repositories.SubscriptionRepository
	subSvc   services.SubscriptionService
	interval time.Duration
	now      func() time.Time
}

func NewSubscriptionWorker(subRepo repositories.SubscriptionRepository, subSvc services.SubscriptionService, interval time.Duration) *SubscriptionWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SubscriptionWorker{
		subRepo:  subRepo,
		subSvc:   subSvc,
		interval: interval,
		now:      time.Now,
	}
}

func (w *SubscriptionWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *SubscriptionWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("subscription worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass. Exported so tests and operational tooling can
// trigger it without the ticker.
func (w *SubscriptionWorker) Sweep(ctx context.Context) {
	now := w.now()

	w.expireBatch(ctx, "cancelled_past_period", models.CancelReasonUserRequest, func() ([]models.Subscription, error) {
		return w.subRepo.FindCancelledPastPeriod(now)
	})
	w.expireBatch(ctx, "trials_past_end", models.CancelReasonTrialEnded, func() ([]models.Subscription, error) {
		return w.subRepo.FindTrialsPastEnd(now)
	})
	w.expireBatch(ctx, "suspended_past_grace", models.CancelReasonPaymentFailed, func() ([]models.Subscription, error) {
		return w.subRepo.FindSuspendedPastGrace(now)
	})
}

func (w *SubscriptionWorker) expireBatch(ctx context.Context, operation string, reason models.CancelReason, find func() ([]models.Subscription, error)) {
	subs, err := find()
	if err != nil {
		logger.WorkerLog("subscription_worker", operation, err)
		return
	}

	expired := 0
	for _, sub := range subs {
		// A trial with a pending activation may have flipped since the scan;
		// ExpireSubscription re-reads under the version guard.
		if err := w.subSvc.ExpireSubscription(ctx, sub.ID, reason); err != nil {
			logger.Error("subscription expiry failed",
				"subscription_id", sub.ID, "operation", operation, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		logger.Info("subscriptions expired", "operation", operation, "count", expired)
	}
	logger.WorkerLog("subscription_worker", operation, nil)
}
