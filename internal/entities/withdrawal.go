package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalStatusProcessing = "PROCESSING"
	WithdrawalStatusSuccess    = "SUCCESS"
	WithdrawalStatusFailed     = "FAILED"
	WithdrawalStatusCancelled  = "CANCELLED"
)

type Withdrawal struct {
	BillNo           string          `db:"bill_no"`
	UserID           string          `db:"user_id"`
	PayerIdentity    string          `db:"payer_identity"`
	AmountMinor      int64           `db:"amount"`
	Status           string          `db:"status"`
	OrderAmountTotal int64           `db:"order_amount_total"`
	CommissionRate   decimal.Decimal `db:"commission_rate"`
	RelatedOrders    RelatedOrders   `db:"related_orders"`
	TransferRef      *string         `db:"transfer_ref"`
	PackageInfo      *string         `db:"package_info"`
	FailReason       *string         `db:"fail_reason"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

var withdrawalTransitions = map[string][]string{
	WithdrawalStatusProcessing: {WithdrawalStatusSuccess, WithdrawalStatusFailed, WithdrawalStatusCancelled},
}

func CanTransitionWithdrawal(from, to string) bool {
	for _, next := range withdrawalTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

func (w Withdrawal) Terminal() bool {
	return w.Status != WithdrawalStatusProcessing
}

func (w Withdrawal) OrderNos() []string {
	orderNos := make([]string, 0, len(w.RelatedOrders))
	for _, order := range w.RelatedOrders {
		orderNos = append(orderNos, order.OrderNo)
	}

	return orderNos
}

type RelatedOrder struct {
	OrderNo       string `json:"order_no"`
	AmountMinor   int64  `json:"amount"`
	TransactionID string `json:"transaction_id"`
}

// RelatedOrders is stored as a JSON column.
type RelatedOrders []RelatedOrder

func (r RelatedOrders) Value() (driver.Value, error) {
	if r == nil {
		r = RelatedOrders{}
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	return string(data), nil
}

func (r *RelatedOrders) Scan(src any) error {
	var data []byte

	switch v := src.(type) {
	case nil:
		*r = RelatedOrders{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into RelatedOrders", src)
	}

	return json.Unmarshal(data, r)
}

// WithdrawalUpdate carries the optional fields written with a status change.
type WithdrawalUpdate struct {
	TransferRef *string
	PackageInfo *string
	FailReason  *string
}
