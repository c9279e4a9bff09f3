package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/jmoiron/sqlx"
)

const withdrawalColumns = `bill_no, user_id, payer_identity, amount, status, order_amount_total, commission_rate,
	related_orders, transfer_ref, package_info, fail_reason, created_at, updated_at`

func (s *SQLStorage) CreateWithdrawal(ctx context.Context, withdrawal entities.Withdrawal) error {
	_, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`),
		withdrawal.BillNo, withdrawal.UserID, withdrawal.PayerIdentity, withdrawal.AmountMinor, withdrawal.Status,
		withdrawal.OrderAmountTotal, withdrawal.CommissionRate.StringFixed(4), withdrawal.RelatedOrders,
		withdrawal.TransferRef, withdrawal.PackageInfo, withdrawal.FailReason,
		withdrawal.CreatedAt.UTC(), withdrawal.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}

		return err
	}

	return nil
}

func (s *SQLStorage) GetWithdrawal(ctx context.Context, billNo string) (entities.Withdrawal, error) {
	var withdrawal entities.Withdrawal

	err := s.db.GetContext(ctx, &withdrawal, s.db.Rebind(`SELECT `+withdrawalColumns+` FROM withdrawals WHERE bill_no = ?;`), billNo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return withdrawal, ErrNoRows
		}

		return withdrawal, err
	}

	return withdrawal, nil
}

func (s *SQLStorage) GetProcessingWithdrawal(ctx context.Context, payerIdentity string) (entities.Withdrawal, error) {
	var withdrawal entities.Withdrawal

	err := s.db.GetContext(
		ctx,
		&withdrawal,
		s.db.Rebind(`SELECT `+withdrawalColumns+` FROM withdrawals WHERE payer_identity = ? AND status = ?;`),
		payerIdentity, entities.WithdrawalStatusProcessing,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return withdrawal, ErrNoRows
		}

		return withdrawal, err
	}

	return withdrawal, nil
}

func (s *SQLStorage) GetProcessingWithdrawals(ctx context.Context, limit int) ([]entities.Withdrawal, error) {
	var withdrawals []entities.Withdrawal

	err := s.db.SelectContext(
		ctx,
		&withdrawals,
		s.db.Rebind(`SELECT `+withdrawalColumns+` FROM withdrawals WHERE status = ? ORDER BY created_at ASC LIMIT ?;`),
		entities.WithdrawalStatusProcessing, limit,
	)
	if err != nil {
		return nil, err
	}

	return withdrawals, nil
}

func (s *SQLStorage) GetUserWithdrawals(ctx context.Context, payerIdentity string) ([]entities.Withdrawal, error) {
	var withdrawals []entities.Withdrawal

	err := s.db.SelectContext(
		ctx,
		&withdrawals,
		s.db.Rebind(`SELECT `+withdrawalColumns+` FROM withdrawals WHERE payer_identity = ? ORDER BY created_at DESC;`),
		payerIdentity,
	)
	if err != nil {
		return nil, err
	}

	return withdrawals, nil
}

func (s *SQLStorage) UpdateWithdrawal(ctx context.Context, billNo string, from string, to string, update entities.WithdrawalUpdate) error {
	return updateWithdrawal(ctx, s.db, billNo, from, to, update)
}

// ConfirmWithdrawal marks a processing withdrawal as successful and consumes
// its related orders in the same transaction.
func (s *SQLStorage) ConfirmWithdrawal(ctx context.Context, billNo string, update entities.WithdrawalUpdate) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback()

	var withdrawal entities.Withdrawal
	if err := tx.GetContext(ctx, &withdrawal, tx.Rebind(`SELECT `+withdrawalColumns+` FROM withdrawals WHERE bill_no = ?;`), billNo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoRows
		}

		return err
	}

	if err := updateWithdrawal(ctx, tx, billNo, entities.WithdrawalStatusProcessing, entities.WithdrawalStatusSuccess, update); err != nil {
		return err
	}

	if err := consumeOrders(ctx, tx, billNo, withdrawal.OrderNos()); err != nil {
		return err
	}

	return tx.Commit()
}

// ConsumeWithdrawalOrders marks the orders backing billNo as consumed without
// touching the withdrawal status. Orders consumed by another bill are kept.
func (s *SQLStorage) ConsumeWithdrawalOrders(ctx context.Context, billNo string) error {
	withdrawal, err := s.GetWithdrawal(ctx, billNo)
	if err != nil {
		return err
	}

	return consumeOrders(ctx, s.db, billNo, withdrawal.OrderNos())
}

func consumeOrders(ctx context.Context, db execer, billNo string, orderNos []string) error {
	if len(orderNos) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		`UPDATE orders SET consumed_bill_no = ? WHERE consumed_bill_no IS NULL AND order_no IN (?);`,
		billNo, orderNos,
	)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, db.Rebind(query), args...)

	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rebind(query string) string
}

func updateWithdrawal(ctx context.Context, db execer, billNo string, from string, to string, update entities.WithdrawalUpdate) error {
	result, err := db.ExecContext(
		ctx,
		db.Rebind(`UPDATE withdrawals SET status = ?, updated_at = ?,
		transfer_ref = COALESCE(?, transfer_ref),
		package_info = COALESCE(?, package_info),
		fail_reason = COALESCE(?, fail_reason)
		WHERE bill_no = ? AND status = ?;`),
		to, time.Now().UTC(), update.TransferRef, update.PackageInfo, update.FailReason, billNo, from,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}

		return err
	}

	return expectOneRow(result)
}
