package entities

import "time"

const (
	NotificationDelivered = "DELIVERED"
	NotificationRejected  = "REJECTED"
)

// NotificationRecord marks an external order as pushed to the legacy ledger.
// REJECTED records are final too: the ledger refused the order permanently.
type NotificationRecord struct {
	ExternalOrderID string    `db:"external_order_id"`
	PayerIdentity   string    `db:"payer_identity"`
	Outcome         string    `db:"outcome"`
	Attempts        int       `db:"attempts"`
	LastError       *string   `db:"last_error"`
	NotifiedAt      time.Time `db:"notified_at"`
}
