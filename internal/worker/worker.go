package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"keygate/internal/chain"
	"keygate/internal/models"
	"keygate/internal/services"
)

// SweeperStore is the persistence surface the sweeper needs.
type SweeperStore interface {
	ListRetryable(ctx context.Context, limit int) ([]*models.Order, error)
	ListMissingTokenID(ctx context.Context, limit int) ([]*models.Order, error)
	BackfillTokenID(ctx context.Context, orderID, tokenID string) (bool, error)
}

// Worker periodically re-drives orders that a previous invocation left in a
// retryable state, and backfills token ids that log extraction missed. It
// reuses the exact same pipeline as the API path, so all crash-safety
// properties carry over.
type Worker struct {
	Store     SweeperStore
	Issuance  *services.IssuanceService
	RPC       chain.RPC
	Interval  time.Duration
	BatchSize int
	Logger    *zap.Logger
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()

	for {
		if err := w.SweepOnce(ctx); err != nil {
			w.logger().Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) SweepOnce(ctx context.Context) error {
	if err := w.retryPending(ctx); err != nil {
		return err
	}
	return w.backfillTokens(ctx)
}

func (w *Worker) retryPending(ctx context.Context) error {
	orders, err := w.Store.ListRetryable(ctx, w.batch())
	if err != nil {
		return err
	}
	for _, order := range orders {
		result, err := w.Issuance.Issue(ctx, order.OrderID)
		if err != nil {
			w.logger().Error("retry issue failed",
				zap.String("orderId", order.OrderID), zap.Error(err))
			continue
		}
		w.logger().Info("retry issue",
			zap.String("orderId", order.OrderID),
			zap.Bool("ok", result.OK),
			zap.Bool("processing", result.Processing),
			zap.String("error", result.Error))
	}
	return nil
}

// backfillTokens recovers token ids for paid orders where receipt-log
// extraction came up empty, by enumerating the recipient's keys on the
// registry.
func (w *Worker) backfillTokens(ctx context.Context) error {
	if w.RPC == nil {
		return nil
	}
	orders, err := w.Store.ListMissingTokenID(ctx, w.batch())
	if err != nil {
		return err
	}
	for _, order := range orders {
		registry := chain.Registry{RPC: w.RPC, Address: order.RegistryAddress}
		balance, err := registry.BalanceOf(ctx, order.RecipientAddress)
		if err != nil {
			w.logger().Warn("token backfill balance query failed",
				zap.String("orderId", order.OrderID), zap.Error(err))
			continue
		}
		if balance.Sign() <= 0 {
			continue
		}
		// The most recently granted key sits at the last index.
		tokenID, err := registry.TokenOfOwnerByIndex(ctx, order.RecipientAddress, balance.Int64()-1)
		if err != nil {
			w.logger().Warn("token backfill enumeration failed",
				zap.String("orderId", order.OrderID), zap.Error(err))
			continue
		}
		updated, err := w.Store.BackfillTokenID(ctx, order.OrderID, tokenID)
		if err != nil {
			w.logger().Warn("token backfill write failed",
				zap.String("orderId", order.OrderID), zap.Error(err))
			continue
		}
		if updated {
			w.logger().Info("token id backfilled",
				zap.String("orderId", order.OrderID), zap.String("tokenId", tokenID))
		}
	}
	return nil
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 30 * time.Second
	}
	return w.Interval
}

func (w *Worker) batch() int {
	if w.BatchSize <= 0 {
		return 20
	}
	return w.BatchSize
}

func (w *Worker) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}
