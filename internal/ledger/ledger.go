package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VladKvetkin/minimart/internal/apperr"
	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/VladKvetkin/minimart/internal/services/keylock"
	"github.com/VladKvetkin/minimart/internal/services/validation"
	"github.com/VladKvetkin/minimart/internal/storage"
	"go.uber.org/zap"
)

const createAttempts = 3

type OrderSpec struct {
	UserID          string
	PayerIdentity   string
	AmountMinor     int64
	Description     string
	ExternalOrderID string
	InviterID       string
}

// Ledger owns orders and their state machine. Mutations of one order number
// are serialized in process by a key lock and in the store by compare-and-set
// updates.
type Ledger struct {
	store storage.OrderStore
	locks *keylock.KeyLock
	now   func() time.Time
}

func NewLedger(store storage.OrderStore) *Ledger {
	return &Ledger{
		store: store,
		locks: keylock.New(),
		now:   time.Now,
	}
}

func (l *Ledger) Create(ctx context.Context, spec OrderSpec) (entities.Order, error) {
	if spec.AmountMinor <= 0 {
		return entities.Order{}, apperr.New(apperr.CodeValidation, "amount must be positive")
	}

	if spec.UserID == "" || spec.PayerIdentity == "" {
		return entities.Order{}, apperr.New(apperr.CodeValidation, "order must have a user and a payer")
	}

	now := l.now()
	order := entities.Order{
		UserID:        spec.UserID,
		PayerIdentity: spec.PayerIdentity,
		AmountMinor:   spec.AmountMinor,
		Description:   spec.Description,
		Status:        entities.OrderStatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(entities.OrderTTL),
	}

	if spec.ExternalOrderID != "" {
		order.ExternalOrderID = &spec.ExternalOrderID
	}

	if spec.InviterID != "" {
		order.InviterID = &spec.InviterID
	}

	for attempt := 1; ; attempt++ {
		order.OrderNo = validation.GenerateOrderNumber()

		err := l.store.CreateOrder(ctx, order)
		if err == nil {
			return order, nil
		}

		if !errors.Is(err, storage.ErrConflict) || attempt == createAttempts {
			return entities.Order{}, fmt.Errorf("error create order: %w", err)
		}
	}
}

// FindByOrderNo reports absence with ok=false rather than an error.
func (l *Ledger) FindByOrderNo(ctx context.Context, orderNo string) (entities.Order, bool, error) {
	return l.find(l.store.GetOrderByNumber(ctx, orderNo))
}

func (l *Ledger) FindByTransactionID(ctx context.Context, transactionID string) (entities.Order, bool, error) {
	return l.find(l.store.GetOrderByTransactionID(ctx, transactionID))
}

func (l *Ledger) find(order entities.Order, err error) (entities.Order, bool, error) {
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return entities.Order{}, false, nil
		}

		return entities.Order{}, false, err
	}

	return order, true, nil
}

// TransitionToPaid marks a pending order as paid. Repeating the call for an
// order that is already paid returns the order together with ErrAlreadyPaid,
// which callers treat as success.
func (l *Ledger) TransitionToPaid(ctx context.Context, orderNo string, transactionID string, amount int64) (entities.Order, error) {
	unlock := l.locks.Lock(orderNo)
	defer unlock()

	order, err := l.mustFind(ctx, orderNo)
	if err != nil {
		return entities.Order{}, err
	}

	if order.AmountMinor != amount {
		return order, apperr.New(
			apperr.CodeAmountMismatch,
			fmt.Sprintf("order %s expects %d, callback reports %d", orderNo, order.AmountMinor, amount),
		)
	}

	switch order.Status {
	case entities.OrderStatusPaid, entities.OrderStatusRefunded:
		if order.TransactionID() != transactionID {
			zap.L().Error(
				"order already paid by another transaction",
				zap.String("order_no", orderNo),
				zap.String("stored_transaction_id", order.TransactionID()),
				zap.String("transaction_id", transactionID),
			)
		}

		return order, apperr.ErrAlreadyPaid
	case entities.OrderStatusPending:
	default:
		return order, apperr.New(apperr.CodeInvalidState, fmt.Sprintf("order %s is %s", orderNo, order.Status))
	}

	payment := entities.OrderPayment{TransactionID: transactionID, PaidAt: l.now()}
	if err := l.store.MarkOrderPaid(ctx, orderNo, payment); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return order, apperr.Wrap(apperr.CodeConflict, "transaction id already bound to another order", err)
		}

		if errors.Is(err, storage.ErrStaleState) {
			return order, apperr.Wrap(apperr.CodeInvalidState, "order changed concurrently", err)
		}

		return order, fmt.Errorf("error mark order paid: %w", err)
	}

	order.Status = entities.OrderStatusPaid
	order.GatewayTransactionID = &payment.TransactionID
	order.PaidAt = &payment.PaidAt

	return order, nil
}

func (l *Ledger) Cancel(ctx context.Context, orderNo string) (entities.Order, error) {
	return l.transition(ctx, orderNo, entities.OrderStatusCancelled)
}

// Refund moves a paid order to REFUNDED.
func (l *Ledger) Refund(ctx context.Context, orderNo string) (entities.Order, error) {
	return l.transition(ctx, orderNo, entities.OrderStatusRefunded)
}

// MarkFailed closes a pending order whose gateway transaction could not be
// created.
func (l *Ledger) MarkFailed(ctx context.Context, orderNo string, reason string) error {
	unlock := l.locks.Lock(orderNo)
	defer unlock()

	if err := l.store.MarkOrderFailed(ctx, orderNo, reason); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return apperr.Wrap(apperr.CodeInvalidState, "order is not pending", err)
		}

		return fmt.Errorf("error mark order failed: %w", err)
	}

	return nil
}

func (l *Ledger) AttachPrepay(ctx context.Context, orderNo string, prepayRef string) error {
	unlock := l.locks.Lock(orderNo)
	defer unlock()

	if err := l.store.SetOrderPrepayRef(ctx, orderNo, prepayRef); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return apperr.Wrap(apperr.CodeInvalidState, "order is not pending", err)
		}

		return fmt.Errorf("error attach prepay: %w", err)
	}

	return nil
}

func (l *Ledger) transition(ctx context.Context, orderNo string, to string) (entities.Order, error) {
	unlock := l.locks.Lock(orderNo)
	defer unlock()

	order, err := l.mustFind(ctx, orderNo)
	if err != nil {
		return entities.Order{}, err
	}

	if !entities.CanTransitionOrder(order.Status, to) {
		return order, apperr.New(apperr.CodeInvalidState, fmt.Sprintf("order %s cannot move from %s to %s", orderNo, order.Status, to))
	}

	if err := l.store.UpdateOrderStatus(ctx, orderNo, order.Status, to); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return order, apperr.Wrap(apperr.CodeInvalidState, "order changed concurrently", err)
		}

		return order, fmt.Errorf("error update order status: %w", err)
	}

	order.Status = to

	return order, nil
}

func (l *Ledger) mustFind(ctx context.Context, orderNo string) (entities.Order, error) {
	order, ok, err := l.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return entities.Order{}, fmt.Errorf("error get order: %w", err)
	}

	if !ok {
		return entities.Order{}, apperr.New(apperr.CodeNotFound, "order "+orderNo+" not found")
	}

	return order, nil
}
