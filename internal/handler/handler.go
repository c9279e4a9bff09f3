package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/VladKvetkin/minimart/internal/apperr"
	"github.com/VladKvetkin/minimart/internal/callback"
	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/VladKvetkin/minimart/internal/gateway"
	"github.com/VladKvetkin/minimart/internal/middleware"
	"github.com/VladKvetkin/minimart/internal/models"
	"github.com/VladKvetkin/minimart/internal/payment"
	"github.com/VladKvetkin/minimart/internal/storage"
	"github.com/VladKvetkin/minimart/internal/withdrawal"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

type PaymentService interface {
	CreatePayment(ctx context.Context, userID string, request payment.CheckoutRequest) (payment.Checkout, error)
	GetPayment(ctx context.Context, userID string, orderNo string) (entities.Order, error)
	CancelPayment(ctx context.Context, userID string, orderNo string) (entities.Order, error)
	ListPayments(ctx context.Context, userID string) ([]entities.Order, error)
}

type WithdrawalService interface {
	RequestWithdrawal(ctx context.Context, userID string, requested *int64) (entities.Withdrawal, error)
	CancelProcessing(ctx context.Context, userID string) error
	SyncUserTransfer(ctx context.Context, userID string, billNo string) (entities.Withdrawal, error)
	Withdrawals(ctx context.Context, userID string) ([]entities.Withdrawal, error)
	Summary(ctx context.Context, userID string) (withdrawal.Summary, error)
}

type CallbackProcessor interface {
	Process(ctx context.Context, notification callback.Notification) error
}

type TokenGenerator interface {
	Generate(userID string) (string, error)
}

type Handler struct {
	users       storage.UserStore
	payments    PaymentService
	withdrawals WithdrawalService
	callbacks   CallbackProcessor
	tokens      TokenGenerator
	validate    *validator.Validate
	debug       bool
}

func NewHandler(
	users storage.UserStore,
	payments PaymentService,
	withdrawals WithdrawalService,
	callbacks CallbackProcessor,
	tokens TokenGenerator,
	debug bool,
) *Handler {
	return &Handler{
		users:       users,
		payments:    payments,
		withdrawals: withdrawals,
		callbacks:   callbacks,
		tokens:      tokens,
		validate:    validator.New(),
		debug:       debug,
	}
}

func (h *Handler) getUserIDFromReqContext(req *http.Request) string {
	return middleware.UserIDFromContext(req.Context())
}

// decodeRequest reads a JSON body into v and runs the validate tags.
func (h *Handler) decodeRequest(res http.ResponseWriter, req *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(res, req.Body, maxBodySize))

	if err := decoder.Decode(v); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "cannot decode request body", err)
	}

	if err := h.validate.Struct(v); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			field := validationErrors[0]
			return apperr.Wrap(apperr.CodeValidation, fmt.Sprintf("field %s failed %s validation", field.Field(), field.Tag()), err)
		}

		return apperr.Wrap(apperr.CodeValidation, "invalid request", err)
	}

	return nil
}

func (h *Handler) writeJSON(res http.ResponseWriter, status int, v any) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)

	jsonEncoder := json.NewEncoder(res)
	if err := jsonEncoder.Encode(v); err != nil {
		zap.L().Info("cannot encode response JSON body", zap.Error(err))
	}
}

// writeError answers with the error's code and a message safe for users.
// Internal detail is only exposed in debug mode.
func (h *Handler) writeError(res http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)

	response := models.ErrorResponse{
		Code:    string(apperr.CodeOf(err)),
		Message: apperr.MessageOf(err),
	}

	var gatewayErr *gateway.GatewayError
	if errors.As(err, &gatewayErr) {
		response.Message = response.Message + ": " + gatewayErr.Message
	}

	if h.debug {
		response.Detail = err.Error()
	}

	if status >= http.StatusInternalServerError {
		zap.L().Error("error handle request", zap.Int("status", status), zap.Error(err))
	} else {
		zap.L().Info("request rejected", zap.Int("status", status), zap.Error(err))
	}

	h.writeJSON(res, status, response)
}
