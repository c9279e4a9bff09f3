package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/VladKvetkin/minimart/internal/entities"
)

const orderColumns = `order_no, user_id, payer_identity, amount, description, status, prepay_ref, transaction_id,
	external_order_id, inviter_id, consumed_bill_no, fail_reason, created_at, paid_at, expires_at`

func (s *SQLStorage) CreateOrder(ctx context.Context, order entities.Order) error {
	_, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`),
		order.OrderNo, order.UserID, order.PayerIdentity, order.AmountMinor, order.Description, order.Status,
		order.GatewayPrepayRef, order.GatewayTransactionID, order.ExternalOrderID, order.InviterID,
		order.ConsumedBillNo, order.FailReason, order.CreatedAt.UTC(), utcOrNil(order.PaidAt), order.ExpiresAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}

		return err
	}

	return nil
}

func (s *SQLStorage) GetOrderByNumber(ctx context.Context, orderNo string) (entities.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_no = ?;`, orderNo)
}

func (s *SQLStorage) GetOrderByTransactionID(ctx context.Context, transactionID string) (entities.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_id = ?;`, transactionID)
}

func (s *SQLStorage) getOrder(ctx context.Context, query string, arg any) (entities.Order, error) {
	var order entities.Order

	if err := s.db.GetContext(ctx, &order, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return order, ErrNoRows
		}

		return order, err
	}

	return order, nil
}

func (s *SQLStorage) GetUserOrders(ctx context.Context, userID string) ([]entities.Order, error) {
	var orders []entities.Order

	err := s.db.SelectContext(
		ctx,
		&orders,
		s.db.Rebind(`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC;`),
		userID,
	)
	if err != nil {
		return nil, err
	}

	return orders, nil
}

// GetCommissionOrders returns the paid orders of the inviter's invitees that
// have not been consumed by a successful withdrawal yet.
func (s *SQLStorage) GetCommissionOrders(ctx context.Context, inviterID string) ([]entities.Order, error) {
	var orders []entities.Order

	err := s.db.SelectContext(
		ctx,
		&orders,
		s.db.Rebind(`SELECT `+orderColumns+` FROM orders
		WHERE inviter_id = ? AND status = ? AND consumed_bill_no IS NULL
		ORDER BY created_at ASC;`),
		inviterID, entities.OrderStatusPaid,
	)
	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (s *SQLStorage) GetOrdersPendingNotification(ctx context.Context, limit int) ([]entities.Order, error) {
	var orders []entities.Order

	err := s.db.SelectContext(
		ctx,
		&orders,
		s.db.Rebind(`SELECT `+orderColumns+` FROM orders
		WHERE status = ? AND external_order_id IS NOT NULL
		AND external_order_id NOT IN (SELECT external_order_id FROM notifications)
		ORDER BY paid_at ASC LIMIT ?;`),
		entities.OrderStatusPaid, limit,
	)
	if err != nil {
		return nil, err
	}

	return orders, nil
}

// UpdateOrderStatus moves the order only if it is still in the from status.
func (s *SQLStorage) UpdateOrderStatus(ctx context.Context, orderNo string, from string, to string) error {
	result, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`UPDATE orders SET status = ? WHERE order_no = ? AND status = ?;`),
		to, orderNo, from,
	)
	if err != nil {
		return err
	}

	return expectOneRow(result)
}

func (s *SQLStorage) MarkOrderPaid(ctx context.Context, orderNo string, payment entities.OrderPayment) error {
	result, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`UPDATE orders SET status = ?, transaction_id = ?, paid_at = ?
		WHERE order_no = ? AND status = ? AND transaction_id IS NULL;`),
		entities.OrderStatusPaid, payment.TransactionID, payment.PaidAt.UTC(), orderNo, entities.OrderStatusPending,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}

		return err
	}

	return expectOneRow(result)
}

func (s *SQLStorage) MarkOrderFailed(ctx context.Context, orderNo string, reason string) error {
	result, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`UPDATE orders SET status = ?, fail_reason = ? WHERE order_no = ? AND status = ?;`),
		entities.OrderStatusFailed, reason, orderNo, entities.OrderStatusPending,
	)
	if err != nil {
		return err
	}

	return expectOneRow(result)
}

func (s *SQLStorage) SetOrderPrepayRef(ctx context.Context, orderNo string, prepayRef string) error {
	result, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`UPDATE orders SET prepay_ref = ? WHERE order_no = ? AND status = ?;`),
		prepayRef, orderNo, entities.OrderStatusPending,
	)
	if err != nil {
		return err
	}

	return expectOneRow(result)
}
