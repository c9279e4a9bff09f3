package settlement

import (
	"context"

	"github.com/VladKvetkin/minimart/internal/gateway"
	"github.com/VladKvetkin/minimart/internal/services/converter"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	ReasonMissingTransactionID = "missing transaction id"
	ReasonQueryFailed          = "query failed"
	ReasonTradeNotCompleted    = "trade not completed"

	defaultConcurrency = 5
)

type OrderQuerier interface {
	QueryOrderStatus(ctx context.Context, transactionID string) (gateway.OrderStatus, error)
}

type OrderRef struct {
	OrderNo       string
	TransactionID string
	AmountMinor   int64
}

type VerifiedOrder struct {
	OrderRef
	PaidAmount int64
}

type UnverifiedOrder struct {
	OrderRef
	Reason string
}

type Result struct {
	VerifiedAmount   int64
	VerifiedTotal    int64
	VerifiedOrders   []VerifiedOrder
	UnverifiedOrders []UnverifiedOrder
}

// Verifier confirms with the payment gateway that local orders were really
// paid before they back a payout.
type Verifier struct {
	client      OrderQuerier
	concurrency int
}

func NewVerifier(client OrderQuerier, concurrency int) *Verifier {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	return &Verifier{
		client:      client,
		concurrency: concurrency,
	}
}

type check struct {
	paid   int64
	reason string
}

// Verify queries every order with a transaction id and keeps the completed
// ones. Failed queries exclude the order instead of failing the whole run.
// VerifiedAmount is floor(VerifiedTotal × rate).
func (v *Verifier) Verify(ctx context.Context, orders []OrderRef, rate decimal.Decimal) (Result, error) {
	checks := make([]check, len(orders))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(v.concurrency)

	for i, order := range orders {
		if order.TransactionID == "" {
			checks[i].reason = ReasonMissingTransactionID
			continue
		}

		i, order := i, order
		eg.Go(func() error {
			status, err := v.client.QueryOrderStatus(egCtx, order.TransactionID)
			if err != nil {
				zap.L().Warn(
					"error query order status",
					zap.String("order_no", order.OrderNo),
					zap.String("transaction_id", order.TransactionID),
					zap.Error(err),
				)

				checks[i].reason = ReasonQueryFailed
				return nil
			}

			if !status.State.Completed() {
				checks[i].reason = ReasonTradeNotCompleted
				return nil
			}

			checks[i].paid = status.PaidAmount
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return Result{}, err
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var result Result

	for i, order := range orders {
		if checks[i].reason != "" {
			result.UnverifiedOrders = append(result.UnverifiedOrders, UnverifiedOrder{OrderRef: order, Reason: checks[i].reason})
			continue
		}

		result.VerifiedOrders = append(result.VerifiedOrders, VerifiedOrder{OrderRef: order, PaidAmount: checks[i].paid})
		result.VerifiedTotal += checks[i].paid
	}

	result.VerifiedAmount = converter.ApplyRateFloor(result.VerifiedTotal, rate)

	return result, nil
}
