package entities

import (
	"time"
)

const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRefunded  = "REFUNDED"
	OrderStatusFailed    = "FAILED"
)

const OrderTTL = 30 * time.Minute

type Order struct {
	OrderNo              string     `db:"order_no"`
	UserID               string     `db:"user_id"`
	PayerIdentity        string     `db:"payer_identity"`
	AmountMinor          int64      `db:"amount"`
	Description          string     `db:"description"`
	Status               string     `db:"status"`
	GatewayPrepayRef     *string    `db:"prepay_ref"`
	GatewayTransactionID *string    `db:"transaction_id"`
	ExternalOrderID      *string    `db:"external_order_id"`
	InviterID            *string    `db:"inviter_id"`
	ConsumedBillNo       *string    `db:"consumed_bill_no"`
	FailReason           *string    `db:"fail_reason"`
	CreatedAt            time.Time  `db:"created_at"`
	PaidAt               *time.Time `db:"paid_at"`
	ExpiresAt            time.Time  `db:"expires_at"`
}

var orderTransitions = map[string][]string{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusPaid:    {OrderStatusRefunded},
}

// CanTransitionOrder reports whether an order may move from one status to
// another. Statuses only move forward.
func CanTransitionOrder(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

func (o Order) TransactionID() string {
	if o.GatewayTransactionID == nil {
		return ""
	}

	return *o.GatewayTransactionID
}

func (o Order) ExternalID() string {
	if o.ExternalOrderID == nil {
		return ""
	}

	return *o.ExternalOrderID
}

func (o Order) Expired(now time.Time) bool {
	return o.Status == OrderStatusPending && now.After(o.ExpiresAt)
}

// OrderPayment holds the fields written when an order becomes PAID.
type OrderPayment struct {
	TransactionID string
	PaidAt        time.Time
}
