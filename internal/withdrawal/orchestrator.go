package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/VladKvetkin/minimart/internal/apperr"
	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/VladKvetkin/minimart/internal/gateway"
	"github.com/VladKvetkin/minimart/internal/services/converter"
	"github.com/VladKvetkin/minimart/internal/services/keylock"
	"github.com/VladKvetkin/minimart/internal/settlement"
	"github.com/VladKvetkin/minimart/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	billNoPrefix     = "WD"
	billNoTimeLayout = "20060102150405"
	defaultRemark    = "推广佣金"
)

type TransferClient interface {
	Transfer(ctx context.Context, request gateway.TransferRequest) (gateway.TransferResult, error)
	QueryTransfer(ctx context.Context, billNo string) (gateway.TransferStatus, error)
	CancelTransfer(ctx context.Context, billNo string) error
}

type SettlementVerifier interface {
	Verify(ctx context.Context, orders []settlement.OrderRef, rate decimal.Decimal) (settlement.Result, error)
}

type Config struct {
	SingleLimit       int64
	DailyLimit        int64
	DefaultRate       decimal.Decimal
	Remark            string
	SceneReportInfo   []gateway.SceneReportInfo
	ReconcileAfter    time.Duration
	ReconcileInterval time.Duration
	ReconcileLimit    int
}

// Summary is what a user may withdraw right now.
type Summary struct {
	AvailableAmount int64
	OrderCount      int
	CommissionRate  decimal.Decimal
	DailyRemaining  int64
	SingleLimit     int64
	Processing      *entities.Withdrawal
}

// Orchestrator pays commission to inviters. A withdrawal stays PROCESSING
// after submission until the transfer confirmation arrives by callback or by
// polling.
type Orchestrator struct {
	users       storage.UserStore
	orders      storage.OrderStore
	withdrawals storage.WithdrawalStore
	verifier    SettlementVerifier
	client      TransferClient
	config      Config
	locks       *keylock.KeyLock
	now         func() time.Time
}

func NewOrchestrator(
	users storage.UserStore,
	orders storage.OrderStore,
	withdrawals storage.WithdrawalStore,
	verifier SettlementVerifier,
	client TransferClient,
	config Config,
) *Orchestrator {
	if config.Remark == "" {
		config.Remark = defaultRemark
	}

	return &Orchestrator{
		users:       users,
		orders:      orders,
		withdrawals: withdrawals,
		verifier:    verifier,
		client:      client,
		config:      config,
		locks:       keylock.New(),
		now:         time.Now,
	}
}

// RequestWithdrawal creates a PROCESSING withdrawal for the user's unconsumed
// commission and submits the transfer. requested caps the amount when set.
func (o *Orchestrator) RequestWithdrawal(ctx context.Context, userID string, requested *int64) (entities.Withdrawal, error) {
	if requested != nil && *requested <= 0 {
		return entities.Withdrawal{}, apperr.New(apperr.CodeValidation, "requested amount must be positive")
	}

	user, err := o.getUser(ctx, userID)
	if err != nil {
		return entities.Withdrawal{}, err
	}

	// The payer stays locked until the submission outcome is stored, so a
	// cancel or a sync never sees a record whose transfer is in flight.
	unlock := o.locks.Lock(user.PayerIdentity)
	defer unlock()

	withdrawal, err := o.createWithdrawal(ctx, user, requested)
	if err != nil {
		return entities.Withdrawal{}, err
	}

	return o.submit(ctx, withdrawal)
}

func (o *Orchestrator) createWithdrawal(ctx context.Context, user entities.User, requested *int64) (entities.Withdrawal, error) {
	if _, err := o.withdrawals.GetProcessingWithdrawal(ctx, user.PayerIdentity); err == nil {
		return entities.Withdrawal{}, apperr.New(apperr.CodeConflict, "a withdrawal is already processing")
	} else if !errors.Is(err, storage.ErrNoRows) {
		return entities.Withdrawal{}, fmt.Errorf("error get processing withdrawal: %w", err)
	}

	orders, err := o.orders.GetCommissionOrders(ctx, user.ID)
	if err != nil {
		return entities.Withdrawal{}, fmt.Errorf("error get commission orders: %w", err)
	}

	rate := o.rate(user)

	available := converter.ApplyRate(sumOrders(orders), rate)
	if available <= 0 {
		return entities.Withdrawal{}, apperr.ErrNothingToWithdraw
	}

	amount := available
	if requested != nil && *requested < amount {
		amount = *requested
	}

	if o.config.SingleLimit > 0 && amount > o.config.SingleLimit {
		amount = o.config.SingleLimit
	}

	dailyRemaining, err := o.dailyRemaining(ctx, user.PayerIdentity)
	if err != nil {
		return entities.Withdrawal{}, err
	}

	if dailyRemaining <= 0 {
		return entities.Withdrawal{}, apperr.ErrDailyLimitExhausted
	}

	if amount > dailyRemaining {
		amount = dailyRemaining
	}

	verification, err := o.verifier.Verify(ctx, orderRefs(orders), rate)
	if err != nil {
		return entities.Withdrawal{}, fmt.Errorf("error verify commission orders: %w", err)
	}

	for _, unverified := range verification.UnverifiedOrders {
		zap.L().Warn(
			"commission order excluded from withdrawal",
			zap.String("order_no", unverified.OrderNo),
			zap.String("reason", unverified.Reason),
		)
	}

	if verification.VerifiedAmount <= 0 {
		return entities.Withdrawal{}, apperr.ErrNothingToWithdraw
	}

	if amount > verification.VerifiedAmount {
		amount = verification.VerifiedAmount
	}

	related, orderAmountTotal := backingOrders(verification.VerifiedOrders, amount, rate)

	now := o.now()
	withdrawal := entities.Withdrawal{
		BillNo:           newBillNo(now),
		UserID:           user.ID,
		PayerIdentity:    user.PayerIdentity,
		AmountMinor:      amount,
		Status:           entities.WithdrawalStatusProcessing,
		OrderAmountTotal: orderAmountTotal,
		CommissionRate:   rate,
		RelatedOrders:    related,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := o.withdrawals.CreateWithdrawal(ctx, withdrawal); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return entities.Withdrawal{}, apperr.Wrap(apperr.CodeConflict, "a withdrawal is already processing", err)
		}

		return entities.Withdrawal{}, fmt.Errorf("error create withdrawal: %w", err)
	}

	zap.L().Info(
		"withdrawal created",
		zap.String("bill_no", withdrawal.BillNo),
		zap.Int64("amount", amount),
		zap.Int64("available", available),
		zap.Int("orders", len(related)),
	)

	return withdrawal, nil
}

// submit sends the transfer. A gateway rejection fails the withdrawal. A
// transport error leaves it PROCESSING because the transfer may exist
// upstream; the reconciler settles it by bill number. The payer lock must be
// held.
func (o *Orchestrator) submit(ctx context.Context, withdrawal entities.Withdrawal) (entities.Withdrawal, error) {
	result, err := o.client.Transfer(ctx, gateway.TransferRequest{
		BillNo:          withdrawal.BillNo,
		AmountMinor:     withdrawal.AmountMinor,
		PayerIdentity:   withdrawal.PayerIdentity,
		Remark:          o.config.Remark,
		SceneReportInfo: o.config.SceneReportInfo,
	})
	if err != nil {
		var gatewayErr *gateway.GatewayError
		if errors.As(err, &gatewayErr) || errors.Is(err, gateway.ErrNotConfigured) {
			reason := err.Error()
			if updateErr := o.withdrawals.UpdateWithdrawal(
				ctx,
				withdrawal.BillNo,
				entities.WithdrawalStatusProcessing,
				entities.WithdrawalStatusFailed,
				entities.WithdrawalUpdate{FailReason: &reason},
			); updateErr != nil {
				zap.L().Error("error fail withdrawal", zap.String("bill_no", withdrawal.BillNo), zap.Error(updateErr))
			}

			if gatewayErr != nil {
				return entities.Withdrawal{}, err
			}

			return entities.Withdrawal{}, apperr.Wrap(apperr.CodeGateway, "transfers are not configured", err)
		}

		zap.L().Error("transfer submission outcome unknown", zap.String("bill_no", withdrawal.BillNo), zap.Error(err))

		return entities.Withdrawal{}, apperr.Wrap(apperr.CodeGateway, "transfer submission outcome unknown, it will be checked later", err)
	}

	if result.State.Final() {
		return o.confirmTransfer(ctx, withdrawal, gateway.TransferStatus{
			BillNo:      withdrawal.BillNo,
			TransferRef: result.TransferRef,
			State:       result.State,
		})
	}

	update := entities.WithdrawalUpdate{
		TransferRef: optional(result.TransferRef),
		PackageInfo: optional(result.PackageInfo),
	}

	if err := o.withdrawals.UpdateWithdrawal(
		ctx,
		withdrawal.BillNo,
		entities.WithdrawalStatusProcessing,
		entities.WithdrawalStatusProcessing,
		update,
	); err != nil {
		if !errors.Is(err, storage.ErrStaleState) {
			return entities.Withdrawal{}, fmt.Errorf("error save transfer reference: %w", err)
		}

		zap.L().Error("ALERT: withdrawal left PROCESSING while its transfer was submitted", zap.String("bill_no", withdrawal.BillNo))
	}

	return o.getWithdrawal(ctx, withdrawal.BillNo)
}

// CancelProcessing cancels the user's PROCESSING withdrawal. Having none is
// not an error. The gateway is asked first: a transfer it already paid or can
// no longer stop is not cancelled locally.
func (o *Orchestrator) CancelProcessing(ctx context.Context, userID string) error {
	user, err := o.getUser(ctx, userID)
	if err != nil {
		return err
	}

	unlock := o.locks.Lock(user.PayerIdentity)
	defer unlock()

	withdrawal, err := o.withdrawals.GetProcessingWithdrawal(ctx, user.PayerIdentity)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return nil
		}

		return fmt.Errorf("error get processing withdrawal: %w", err)
	}

	if err := o.cancelUpstream(ctx, withdrawal); err != nil {
		return err
	}

	reason := "cancelled by user"
	if err := o.withdrawals.UpdateWithdrawal(
		ctx,
		withdrawal.BillNo,
		entities.WithdrawalStatusProcessing,
		entities.WithdrawalStatusCancelled,
		entities.WithdrawalUpdate{FailReason: &reason},
	); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return apperr.Wrap(apperr.CodeInvalidState, "withdrawal is no longer processing", err)
		}

		return fmt.Errorf("error cancel withdrawal: %w", err)
	}

	zap.L().Info("withdrawal cancelled", zap.String("bill_no", withdrawal.BillNo))

	return nil
}

// cancelUpstream makes sure the transfer of withdrawal cannot pay out. A nil
// result allows the local cancel. The payer lock must be held.
func (o *Orchestrator) cancelUpstream(ctx context.Context, withdrawal entities.Withdrawal) error {
	status, err := o.client.QueryTransfer(ctx, withdrawal.BillNo)
	if err != nil {
		var gatewayErr *gateway.GatewayError
		if (errors.As(err, &gatewayErr) && gatewayErr.NotFound()) || errors.Is(err, gateway.ErrNotConfigured) {
			return nil
		}

		return apperr.Wrap(apperr.CodeGateway, "cannot check transfer state, try again later", err)
	}

	status.BillNo = withdrawal.BillNo

	switch status.State {
	case gateway.TransferStateSuccess:
		if _, err := o.confirmTransfer(ctx, withdrawal, status); err != nil {
			return err
		}

		return apperr.New(apperr.CodeInvalidState, "transfer already succeeded")
	case gateway.TransferStateFail, gateway.TransferStateCancelled:
		if _, err := o.confirmTransfer(ctx, withdrawal, status); err != nil {
			return err
		}

		return apperr.New(apperr.CodeInvalidState, "withdrawal is no longer processing")
	case gateway.TransferStateTransfering, gateway.TransferStateCanceling:
		return apperr.New(apperr.CodeInvalidState, "transfer is in progress and cannot be cancelled")
	}

	if err := o.client.CancelTransfer(ctx, withdrawal.BillNo); err != nil {
		return apperr.Wrap(apperr.CodeGateway, "cannot cancel transfer", err)
	}

	return nil
}

// ConfirmTransfer applies a final transfer state. Replays for a withdrawal
// that is already terminal change nothing.
func (o *Orchestrator) ConfirmTransfer(ctx context.Context, status gateway.TransferStatus) (entities.Withdrawal, error) {
	withdrawal, err := o.getWithdrawal(ctx, status.BillNo)
	if err != nil {
		return entities.Withdrawal{}, err
	}

	unlock := o.locks.Lock(withdrawal.PayerIdentity)
	defer unlock()

	// Reload under the lock.
	withdrawal, err = o.getWithdrawal(ctx, status.BillNo)
	if err != nil {
		return entities.Withdrawal{}, err
	}

	return o.confirmTransfer(ctx, withdrawal, status)
}

// confirmTransfer is ConfirmTransfer with the payer lock already held.
func (o *Orchestrator) confirmTransfer(ctx context.Context, withdrawal entities.Withdrawal, status gateway.TransferStatus) (entities.Withdrawal, error) {
	var err error

	if withdrawal.Terminal() {
		if status.State == gateway.TransferStateSuccess && withdrawal.Status != entities.WithdrawalStatusSuccess {
			zap.L().Error(
				"ALERT: transfer succeeded for a closed withdrawal",
				zap.String("bill_no", withdrawal.BillNo),
				zap.String("status", withdrawal.Status),
			)

			// The money moved, so its orders must not back another payout.
			if err := o.withdrawals.ConsumeWithdrawalOrders(ctx, withdrawal.BillNo); err != nil {
				return entities.Withdrawal{}, fmt.Errorf("error consume withdrawal orders: %w", err)
			}
		}

		return withdrawal, nil
	}

	if status.AmountMinor != 0 && status.AmountMinor != withdrawal.AmountMinor {
		zap.L().Error(
			"ALERT: transfer amount differs from withdrawal",
			zap.String("bill_no", withdrawal.BillNo),
			zap.Int64("amount", withdrawal.AmountMinor),
			zap.Int64("transfer_amount", status.AmountMinor),
		)
	}

	update := entities.WithdrawalUpdate{TransferRef: optional(status.TransferRef)}

	switch status.State {
	case gateway.TransferStateSuccess:
		err = o.withdrawals.ConfirmWithdrawal(ctx, withdrawal.BillNo, update)
	case gateway.TransferStateFail:
		update.FailReason = optional(status.FailReason)
		err = o.withdrawals.UpdateWithdrawal(ctx, withdrawal.BillNo, entities.WithdrawalStatusProcessing, entities.WithdrawalStatusFailed, update)
	case gateway.TransferStateCancelled:
		err = o.withdrawals.UpdateWithdrawal(ctx, withdrawal.BillNo, entities.WithdrawalStatusProcessing, entities.WithdrawalStatusCancelled, update)
	default:
		return withdrawal, nil
	}

	if err != nil && !errors.Is(err, storage.ErrStaleState) {
		return entities.Withdrawal{}, fmt.Errorf("error confirm withdrawal: %w", err)
	}

	zap.L().Info("transfer confirmed", zap.String("bill_no", withdrawal.BillNo), zap.String("state", string(status.State)))

	return o.getWithdrawal(ctx, withdrawal.BillNo)
}

// SyncTransfer polls the gateway for the transfer and applies a final state.
// A transfer the gateway does not know was never accepted, so the withdrawal
// fails.
func (o *Orchestrator) SyncTransfer(ctx context.Context, billNo string) (entities.Withdrawal, error) {
	withdrawal, err := o.getWithdrawal(ctx, billNo)
	if err != nil {
		return entities.Withdrawal{}, err
	}

	unlock := o.locks.Lock(withdrawal.PayerIdentity)
	defer unlock()

	withdrawal, err = o.getWithdrawal(ctx, billNo)
	if err != nil {
		return entities.Withdrawal{}, err
	}

	if withdrawal.Terminal() {
		return withdrawal, nil
	}

	status, err := o.client.QueryTransfer(ctx, billNo)
	if err != nil {
		var gatewayErr *gateway.GatewayError
		if errors.As(err, &gatewayErr) && gatewayErr.NotFound() {
			return o.confirmTransfer(ctx, withdrawal, gateway.TransferStatus{
				BillNo:     billNo,
				State:      gateway.TransferStateFail,
				FailReason: "transfer not found upstream",
			})
		}

		return entities.Withdrawal{}, err
	}

	status.BillNo = billNo

	if !status.State.Final() {
		return withdrawal, nil
	}

	return o.confirmTransfer(ctx, withdrawal, status)
}

// SyncUserTransfer is SyncTransfer for a withdrawal the user owns.
func (o *Orchestrator) SyncUserTransfer(ctx context.Context, userID string, billNo string) (entities.Withdrawal, error) {
	withdrawal, err := o.getWithdrawal(ctx, billNo)
	if err != nil {
		return entities.Withdrawal{}, err
	}

	if withdrawal.UserID != userID {
		return entities.Withdrawal{}, apperr.New(apperr.CodeNotFound, "withdrawal "+billNo+" not found")
	}

	return o.SyncTransfer(ctx, billNo)
}

func (o *Orchestrator) Withdrawals(ctx context.Context, userID string) ([]entities.Withdrawal, error) {
	user, err := o.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	withdrawals, err := o.withdrawals.GetUserWithdrawals(ctx, user.PayerIdentity)
	if err != nil {
		return nil, fmt.Errorf("error get user withdrawals: %w", err)
	}

	return withdrawals, nil
}

func (o *Orchestrator) Summary(ctx context.Context, userID string) (Summary, error) {
	user, err := o.getUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	orders, err := o.orders.GetCommissionOrders(ctx, user.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("error get commission orders: %w", err)
	}

	dailyRemaining, err := o.dailyRemaining(ctx, user.PayerIdentity)
	if err != nil {
		return Summary{}, err
	}

	rate := o.rate(user)
	summary := Summary{
		AvailableAmount: converter.ApplyRate(sumOrders(orders), rate),
		OrderCount:      len(orders),
		CommissionRate:  rate,
		DailyRemaining:  max(dailyRemaining, 0),
		SingleLimit:     o.config.SingleLimit,
	}

	processing, err := o.withdrawals.GetProcessingWithdrawal(ctx, user.PayerIdentity)
	switch {
	case err == nil:
		summary.Processing = &processing
	case !errors.Is(err, storage.ErrNoRows):
		return Summary{}, fmt.Errorf("error get processing withdrawal: %w", err)
	}

	return summary, nil
}

// dailyRemaining is the daily limit minus today's successful and processing
// withdrawals. Today is the server's local calendar day.
func (o *Orchestrator) dailyRemaining(ctx context.Context, payerIdentity string) (int64, error) {
	if o.config.DailyLimit <= 0 {
		return math.MaxInt64, nil
	}

	withdrawals, err := o.withdrawals.GetUserWithdrawals(ctx, payerIdentity)
	if err != nil {
		return 0, fmt.Errorf("error get user withdrawals: %w", err)
	}

	now := o.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var used int64
	for _, withdrawal := range withdrawals {
		if withdrawal.CreatedAt.Before(dayStart) {
			continue
		}

		if withdrawal.Status == entities.WithdrawalStatusSuccess || withdrawal.Status == entities.WithdrawalStatusProcessing {
			used += withdrawal.AmountMinor
		}
	}

	return o.config.DailyLimit - used, nil
}

func (o *Orchestrator) rate(user entities.User) decimal.Decimal {
	if user.CommissionRate.Valid {
		return user.CommissionRate.Decimal
	}

	return o.config.DefaultRate
}

func (o *Orchestrator) getUser(ctx context.Context, userID string) (entities.User, error) {
	user, err := o.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return entities.User{}, apperr.New(apperr.CodeNotFound, "user not found")
		}

		return entities.User{}, fmt.Errorf("error get user: %w", err)
	}

	return user, nil
}

func (o *Orchestrator) getWithdrawal(ctx context.Context, billNo string) (entities.Withdrawal, error) {
	withdrawal, err := o.withdrawals.GetWithdrawal(ctx, billNo)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return entities.Withdrawal{}, apperr.New(apperr.CodeNotFound, "withdrawal "+billNo+" not found")
		}

		return entities.Withdrawal{}, fmt.Errorf("error get withdrawal: %w", err)
	}

	return withdrawal, nil
}

// backingOrders picks verified orders, oldest first, until their commission
// covers amount. Orders left out stay available for later withdrawals.
func backingOrders(verified []settlement.VerifiedOrder, amount int64, rate decimal.Decimal) (entities.RelatedOrders, int64) {
	related := make(entities.RelatedOrders, 0, len(verified))

	var total int64
	for _, order := range verified {
		related = append(related, entities.RelatedOrder{
			OrderNo:       order.OrderNo,
			AmountMinor:   order.AmountMinor,
			TransactionID: order.TransactionID,
		})
		total += order.PaidAmount

		if converter.ApplyRateFloor(total, rate) >= amount {
			break
		}
	}

	return related, total
}

func sumOrders(orders []entities.Order) int64 {
	var total int64
	for _, order := range orders {
		total += order.AmountMinor
	}

	return total
}

func orderRefs(orders []entities.Order) []settlement.OrderRef {
	refs := make([]settlement.OrderRef, 0, len(orders))
	for _, order := range orders {
		refs = append(refs, settlement.OrderRef{
			OrderNo:       order.OrderNo,
			TransactionID: order.TransactionID(),
			AmountMinor:   order.AmountMinor,
		})
	}

	return refs
}

func newBillNo(now time.Time) string {
	return billNoPrefix + now.Format(billNoTimeLayout) + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func optional(value string) *string {
	if value == "" {
		return nil
	}

	return &value
}
