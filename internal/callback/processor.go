package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/VladKvetkin/minimart/internal/apperr"
	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/VladKvetkin/minimart/internal/gateway"
	"github.com/VladKvetkin/minimart/internal/notifier"
	"go.uber.org/zap"
)

// Header names of a gateway callback.
const (
	HeaderTimestamp = "Wechatpay-Timestamp"
	HeaderNonce     = "Wechatpay-Nonce"
	HeaderSignature = "Wechatpay-Signature"
	HeaderSerial    = "Wechatpay-Serial"
)

type Verifier interface {
	VerifyCallbackSignature(timestamp string, nonce string, body string, signature string, serial string) (bool, error)
	DecryptCallbackResource(ciphertextB64 string, associatedData string, nonce string) ([]byte, error)
}

type Ledger interface {
	TransitionToPaid(ctx context.Context, orderNo string, transactionID string, amount int64) (entities.Order, error)
	Refund(ctx context.Context, orderNo string) (entities.Order, error)
}

type Notifier interface {
	Enqueue(event notifier.Event) bool
}

type TransferConfirmer interface {
	ConfirmTransfer(ctx context.Context, status gateway.TransferStatus) (entities.Withdrawal, error)
}

// Notification is one callback request with its body fully read.
type Notification struct {
	Timestamp string
	Nonce     string
	Signature string
	Serial    string
	Body      []byte
}

type Processor struct {
	verifier  Verifier
	ledger    Ledger
	notifier  Notifier
	transfers TransferConfirmer
	maxAge    time.Duration
	now       func() time.Time
}

// NewProcessor builds a processor. A zero maxAge disables the timestamp
// freshness check.
func NewProcessor(verifier Verifier, ledger Ledger, notifier Notifier, transfers TransferConfirmer, maxAge time.Duration) *Processor {
	return &Processor{
		verifier:  verifier,
		ledger:    ledger,
		notifier:  notifier,
		transfers: transfers,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// Process authenticates, decrypts and applies one callback. A nil result
// means the gateway may stop delivering it; any error asks for a redelivery.
// Nothing is mutated before the signature and the decryption succeed.
func (p *Processor) Process(ctx context.Context, notification Notification) error {
	if err := p.checkFreshness(notification.Timestamp); err != nil {
		return err
	}

	ok, err := p.verifier.VerifyCallbackSignature(
		notification.Timestamp,
		notification.Nonce,
		string(notification.Body),
		notification.Signature,
		notification.Serial,
	)
	if err != nil {
		return err
	}

	if !ok {
		return apperr.New(apperr.CodeSignature, "callback signature mismatch")
	}

	var envelope gateway.Notification
	if err := json.Unmarshal(notification.Body, &envelope); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "cannot decode callback body", err)
	}

	plaintext, err := p.verifier.DecryptCallbackResource(
		envelope.Resource.Ciphertext,
		envelope.Resource.AssociatedData,
		envelope.Resource.Nonce,
	)
	if err != nil {
		return err
	}

	switch {
	case strings.HasPrefix(envelope.EventType, gateway.EventPrefixTransaction):
		return p.processTransaction(ctx, envelope, plaintext)
	case strings.HasPrefix(envelope.EventType, gateway.EventPrefixRefund):
		return p.processRefund(ctx, envelope, plaintext)
	case envelope.EventType == gateway.EventTransferBillFinished:
		return p.processTransfer(ctx, plaintext)
	default:
		zap.L().Info("ignore callback event", zap.String("event_type", envelope.EventType), zap.String("id", envelope.ID))
		return nil
	}
}

func (p *Processor) checkFreshness(timestamp string) error {
	if p.maxAge <= 0 {
		return nil
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperr.Wrap(apperr.CodeSignature, "malformed callback timestamp", err)
	}

	age := p.now().Sub(time.Unix(seconds, 0))
	if age > p.maxAge || age < -p.maxAge {
		return apperr.New(apperr.CodeSignature, fmt.Sprintf("callback timestamp is %s away from server time", age.Round(time.Second)))
	}

	return nil
}

func (p *Processor) processTransaction(ctx context.Context, envelope gateway.Notification, plaintext []byte) error {
	var resource gateway.TransactionResource
	if err := json.Unmarshal(plaintext, &resource); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "cannot decode transaction resource", err)
	}

	if !gateway.TradeState(resource.TradeState).Completed() {
		zap.L().Info(
			"transaction callback without completed trade",
			zap.String("order_no", resource.OutTradeNo),
			zap.String("trade_state", resource.TradeState),
		)

		return nil
	}

	order, err := p.ledger.TransitionToPaid(ctx, resource.OutTradeNo, resource.TransactionID, resource.Amount.Total)
	switch {
	case err == nil:
		zap.L().Info(
			"order paid",
			zap.String("order_no", order.OrderNo),
			zap.String("transaction_id", resource.TransactionID),
			zap.String("event_id", envelope.ID),
		)
	case errors.Is(err, apperr.ErrAlreadyPaid):
		zap.L().Info("duplicate payment callback", zap.String("order_no", resource.OutTradeNo), zap.String("event_id", envelope.ID))
	case errors.Is(err, apperr.ErrNotFound):
		zap.L().Error(
			"ALERT: payment callback for unknown order",
			zap.String("order_no", resource.OutTradeNo),
			zap.String("transaction_id", resource.TransactionID),
			zap.Int64("amount", resource.Amount.Total),
		)

		return err
	case errors.Is(err, apperr.ErrAmountMismatch):
		zap.L().Error(
			"ALERT: payment callback amount mismatch",
			zap.String("order_no", resource.OutTradeNo),
			zap.String("transaction_id", resource.TransactionID),
			zap.Error(err),
		)

		return err
	case errors.Is(err, apperr.ErrInvalidState):
		// Money was captured for an order that is closed locally.
		zap.L().Error(
			"ALERT: payment callback for closed order",
			zap.String("order_no", resource.OutTradeNo),
			zap.String("status", order.Status),
			zap.String("transaction_id", resource.TransactionID),
			zap.Int64("amount", resource.Amount.Total),
		)

		return err
	default:
		return err
	}

	if order.ExternalID() != "" {
		p.notifier.Enqueue(notifier.Event{ExternalOrderID: order.ExternalID(), PayerIdentity: order.PayerIdentity})
	}

	return nil
}

func (p *Processor) processRefund(ctx context.Context, envelope gateway.Notification, plaintext []byte) error {
	if envelope.EventType != gateway.EventRefundSuccess {
		zap.L().Info("ignore refund event", zap.String("event_type", envelope.EventType), zap.String("id", envelope.ID))
		return nil
	}

	var resource gateway.RefundResource
	if err := json.Unmarshal(plaintext, &resource); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "cannot decode refund resource", err)
	}

	if _, err := p.ledger.Refund(ctx, resource.OutTradeNo); err != nil {
		if errors.Is(err, apperr.ErrInvalidState) {
			zap.L().Warn("refund callback for order that is not paid", zap.String("order_no", resource.OutTradeNo), zap.Error(err))
			return nil
		}

		return err
	}

	zap.L().Info("order refunded", zap.String("order_no", resource.OutTradeNo), zap.String("refund_id", resource.RefundID))

	return nil
}

func (p *Processor) processTransfer(ctx context.Context, plaintext []byte) error {
	var resource gateway.TransferBillResource
	if err := json.Unmarshal(plaintext, &resource); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "cannot decode transfer resource", err)
	}

	status := gateway.TransferStatus{
		BillNo:      resource.OutBillNo,
		TransferRef: resource.TransferBillNo,
		State:       gateway.TransferState(resource.State),
		AmountMinor: resource.TransferAmount,
		FailReason:  resource.FailReason,
	}

	if finishTime, err := time.Parse(time.RFC3339, resource.UpdateTime); err == nil {
		status.FinishTime = &finishTime
	}

	if _, err := p.transfers.ConfirmTransfer(ctx, status); err != nil {
		return err
	}

	return nil
}
