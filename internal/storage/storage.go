package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrConflict   = errors.New("conflict")
	ErrNoRows     = errors.New("no rows")
	ErrStaleState = errors.New("stale state")
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

type UserStore interface {
	CreateUser(context.Context, entities.User) error
	GetUser(context.Context, string) (entities.User, error)
	GetUserByPayerIdentity(context.Context, string) (entities.User, error)
	GetUserByInviteCode(context.Context, string) (entities.User, error)
}

type OrderStore interface {
	CreateOrder(context.Context, entities.Order) error
	GetOrderByNumber(context.Context, string) (entities.Order, error)
	GetOrderByTransactionID(context.Context, string) (entities.Order, error)
	GetUserOrders(context.Context, string) ([]entities.Order, error)
	GetCommissionOrders(context.Context, string) ([]entities.Order, error)
	GetOrdersPendingNotification(context.Context, int) ([]entities.Order, error)

	UpdateOrderStatus(ctx context.Context, orderNo, from, to string) error
	MarkOrderPaid(context.Context, string, entities.OrderPayment) error
	MarkOrderFailed(ctx context.Context, orderNo, reason string) error
	SetOrderPrepayRef(ctx context.Context, orderNo, prepayRef string) error
}

type WithdrawalStore interface {
	CreateWithdrawal(context.Context, entities.Withdrawal) error
	GetWithdrawal(context.Context, string) (entities.Withdrawal, error)
	GetProcessingWithdrawal(context.Context, string) (entities.Withdrawal, error)
	GetProcessingWithdrawals(context.Context, int) ([]entities.Withdrawal, error)
	GetUserWithdrawals(context.Context, string) ([]entities.Withdrawal, error)

	UpdateWithdrawal(ctx context.Context, billNo, from, to string, update entities.WithdrawalUpdate) error
	ConfirmWithdrawal(ctx context.Context, billNo string, update entities.WithdrawalUpdate) error
	ConsumeWithdrawalOrders(ctx context.Context, billNo string) error
}

type NotificationStore interface {
	GetNotification(context.Context, string) (entities.NotificationRecord, error)
	SaveNotification(context.Context, entities.NotificationRecord) error
}

type Storage interface {
	UserStore
	OrderStore
	WithdrawalStore
	NotificationStore

	runMigrations(context.Context) error
}

// SQLStorage keeps every query in `?` form and rebinds it for the driver in
// use, so the same statements serve PostgreSQL and SQLite.
type SQLStorage struct {
	db *sqlx.DB
}

func NewSQLStorage(db *sqlx.DB) (*SQLStorage, error) {
	storage := &SQLStorage{db: db}

	if err := storage.runMigrations(context.Background()); err != nil {
		return nil, fmt.Errorf("error run migrations: %w", err)
	}

	return storage, nil
}

// Open connects to the database. SQLite is limited to a single connection so
// in-memory databases are shared by every caller.
func Open(driver string, dsn string) (*sqlx.DB, error) {
	if driver == DriverSQLite && !strings.Contains(dsn, "_time_format") {
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		dsn += separator + "_time_format=sqlite"
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgerrcode.IsIntegrityConstraintViolation(string(pqErr.Code))
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}

	return false
}

func expectOneRow(result interface{ RowsAffected() (int64, error) }) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return ErrStaleState
	}

	return nil
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	utc := t.UTC()
	return &utc
}
