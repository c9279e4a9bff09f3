package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/VladKvetkin/minimart/internal/entities"
)

const userColumns = `id, payer_identity, invite_code, inviter_id, commission_rate, created_at`

func (s *SQLStorage) CreateUser(ctx context.Context, user entities.User) error {
	_, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?);`),
		user.ID, user.PayerIdentity, user.InviteCode, user.InviterID, user.CommissionRate, user.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}

		return err
	}

	return nil
}

func (s *SQLStorage) GetUser(ctx context.Context, id string) (entities.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?;`, id)
}

func (s *SQLStorage) GetUserByPayerIdentity(ctx context.Context, payerIdentity string) (entities.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE payer_identity = ?;`, payerIdentity)
}

func (s *SQLStorage) GetUserByInviteCode(ctx context.Context, inviteCode string) (entities.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE invite_code = ?;`, inviteCode)
}

func (s *SQLStorage) getUser(ctx context.Context, query string, arg any) (entities.User, error) {
	var user entities.User

	if err := s.db.GetContext(ctx, &user, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user, ErrNoRows
		}

		return user, err
	}

	return user, nil
}
