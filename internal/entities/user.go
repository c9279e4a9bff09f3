package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID             string              `db:"id"`
	PayerIdentity  string              `db:"payer_identity"`
	InviteCode     string              `db:"invite_code"`
	InviterID      *string             `db:"inviter_id"`
	CommissionRate decimal.NullDecimal `db:"commission_rate"`
	CreatedAt      time.Time           `db:"created_at"`
}
