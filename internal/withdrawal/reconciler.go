package withdrawal

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultReconcileLimit = 100

// Start polls the gateway for PROCESSING withdrawals whose confirmation
// callback is overdue. It returns when ctx is done.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.config.ReconcileInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(o.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := o.reconcile(ctx); err != nil {
				zap.L().Info("error reconcile withdrawals", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (o *Orchestrator) reconcile(ctx context.Context) error {
	limit := o.config.ReconcileLimit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}

	withdrawals, err := o.withdrawals.GetProcessingWithdrawals(ctx, limit)
	if err != nil {
		return err
	}

	cutoff := o.now().Add(-o.config.ReconcileAfter)

	for _, withdrawal := range withdrawals {
		if withdrawal.CreatedAt.After(cutoff) {
			continue
		}

		synced, err := o.SyncTransfer(ctx, withdrawal.BillNo)
		if err != nil {
			zap.L().Info("error sync transfer", zap.String("bill_no", withdrawal.BillNo), zap.Error(err))
			continue
		}

		if synced.Terminal() {
			zap.L().Info("withdrawal reconciled", zap.String("bill_no", synced.BillNo), zap.String("status", synced.Status))
		}

		if ctx.Err() != nil {
			return nil
		}
	}

	return nil
}
