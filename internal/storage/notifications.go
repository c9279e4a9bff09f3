package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/VladKvetkin/minimart/internal/entities"
)

func (s *SQLStorage) GetNotification(ctx context.Context, externalOrderID string) (entities.NotificationRecord, error) {
	var record entities.NotificationRecord

	err := s.db.GetContext(
		ctx,
		&record,
		s.db.Rebind(`SELECT external_order_id, payer_identity, outcome, attempts, last_error, notified_at
		FROM notifications WHERE external_order_id = ?;`),
		externalOrderID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record, ErrNoRows
		}

		return record, err
	}

	return record, nil
}

// SaveNotification records a final outcome. A record is written once; a
// second write for the same order is reported as ErrConflict.
func (s *SQLStorage) SaveNotification(ctx context.Context, record entities.NotificationRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`INSERT INTO notifications (external_order_id, payer_identity, outcome, attempts, last_error, notified_at)
		VALUES (?, ?, ?, ?, ?, ?);`),
		record.ExternalOrderID, record.PayerIdentity, record.Outcome, record.Attempts, record.LastError, record.NotifiedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}

		return err
	}

	return nil
}
