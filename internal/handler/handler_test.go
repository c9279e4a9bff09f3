package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VladKvetkin/minimart/internal/apperr"
	"github.com/VladKvetkin/minimart/internal/callback"
	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/VladKvetkin/minimart/internal/gateway"
	"github.com/VladKvetkin/minimart/internal/middleware"
	"github.com/VladKvetkin/minimart/internal/models"
	"github.com/VladKvetkin/minimart/internal/payment"
	"github.com/VladKvetkin/minimart/internal/services/validation"
	"github.com/VladKvetkin/minimart/internal/storage/storagetest"
	"github.com/VladKvetkin/minimart/internal/withdrawal"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePayments struct {
	request payment.CheckoutRequest
	orders  []entities.Order
	err     error
}

func (f *fakePayments) CreatePayment(ctx context.Context, userID string, request payment.CheckoutRequest) (payment.Checkout, error) {
	f.request = request
	if f.err != nil {
		return payment.Checkout{}, f.err
	}

	return payment.Checkout{
		Order: entities.Order{
			OrderNo:     "ORDER-1",
			AmountMinor: request.AmountMinor,
			ExpiresAt:   time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		},
		PayParams: gateway.PayParams{Package: "prepay_id=wx1", SignType: "RSA", PaySign: "sig"},
	}, nil
}

func (f *fakePayments) GetPayment(ctx context.Context, userID string, orderNo string) (entities.Order, error) {
	for _, order := range f.orders {
		if order.OrderNo == orderNo && order.UserID == userID {
			return order, nil
		}
	}

	return entities.Order{}, apperr.New(apperr.CodeNotFound, "order "+orderNo+" not found")
}

func (f *fakePayments) CancelPayment(ctx context.Context, userID string, orderNo string) (entities.Order, error) {
	order, err := f.GetPayment(ctx, userID, orderNo)
	if err != nil {
		return entities.Order{}, err
	}

	order.Status = entities.OrderStatusCancelled

	return order, nil
}

func (f *fakePayments) ListPayments(ctx context.Context, userID string) ([]entities.Order, error) {
	return f.orders, nil
}

type fakeWithdrawals struct {
	requested *int64
	result    entities.Withdrawal
	summary   withdrawal.Summary
	err       error
}

func (f *fakeWithdrawals) RequestWithdrawal(ctx context.Context, userID string, requested *int64) (entities.Withdrawal, error) {
	f.requested = requested
	return f.result, f.err
}

func (f *fakeWithdrawals) CancelProcessing(ctx context.Context, userID string) error {
	return f.err
}

func (f *fakeWithdrawals) SyncUserTransfer(ctx context.Context, userID string, billNo string) (entities.Withdrawal, error) {
	if billNo != f.result.BillNo {
		return entities.Withdrawal{}, apperr.New(apperr.CodeNotFound, "withdrawal not found")
	}

	return f.result, f.err
}

func (f *fakeWithdrawals) Withdrawals(ctx context.Context, userID string) ([]entities.Withdrawal, error) {
	if f.result.BillNo == "" {
		return nil, f.err
	}

	return []entities.Withdrawal{f.result}, f.err
}

func (f *fakeWithdrawals) Summary(ctx context.Context, userID string) (withdrawal.Summary, error) {
	return f.summary, f.err
}

type fakeCallbacks struct {
	notification callback.Notification
	err          error
}

func (f *fakeCallbacks) Process(ctx context.Context, notification callback.Notification) error {
	f.notification = notification
	return f.err
}

type fakeTokens struct{}

func (fakeTokens) Generate(userID string) (string, error) {
	return "token-" + userID, nil
}

type testEnv struct {
	router      chi.Router
	payments    *fakePayments
	withdrawals *fakeWithdrawals
	callbacks   *fakeCallbacks
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		payments:    &fakePayments{},
		withdrawals: &fakeWithdrawals{},
		callbacks:   &fakeCallbacks{},
	}

	h := NewHandler(storagetest.New(t), env.payments, env.withdrawals, env.callbacks, fakeTokens{}, false)

	router := chi.NewRouter()
	router.Post("/callback", h.Callback)
	router.Post("/login", h.Login)
	router.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if userID := req.Header.Get("X-Test-User"); userID != "" {
					req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey{}, userID))
				}
				next.ServeHTTP(w, req)
			})
		})
		r.Post("/orders", h.CreatePayment)
		r.Get("/orders", h.GetOrders)
		r.Get("/orders/{orderNo}", h.GetOrder)
		r.Post("/orders/{orderNo}/cancel", h.CancelOrder)
		r.Post("/withdrawals", h.Withdraw)
		r.Post("/withdrawals/cancel", h.CancelWithdrawal)
		r.Get("/withdrawals", h.GetWithdrawals)
		r.Post("/withdrawals/{billNo}/sync", h.SyncWithdrawal)
		r.Get("/commission", h.GetCommission)
	})

	env.router = router

	return env
}

func (e *testEnv) do(method string, target string, userID string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	}

	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))

	return v
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/login", "", `{"openid":"openid-inviter"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	inviter := decodeBody[models.LoginResponse](t, rec)
	assert.Len(t, inviter.InviteCode, inviteCodeLength)
	assert.Equal(t, "token-"+inviter.UserID, inviter.Token)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.TokenCookieName, cookies[0].Name)

	rec = env.do(http.MethodPost, "/login", "", `{"openid":"openid-inviter"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, inviter.UserID, decodeBody[models.LoginResponse](t, rec).UserID)

	rec = env.do(http.MethodPost, "/login", "", `{"openid":"openid-invitee","invite_code":"`+inviter.InviteCode+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, inviter.UserID, decodeBody[models.LoginResponse](t, rec).UserID)

	rec = env.do(http.MethodPost, "/login", "", `{"openid":"openid-other","invite_code":"NOPE1234"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.CodeValidation), decodeBody[models.ErrorResponse](t, rec).Code)

	rec = env.do(http.MethodPost, "/login", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePayment(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/orders", "", `{"amount":19.99,"description":"coffee"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/orders", "user-1", `{"amount":19.99,"description":"coffee","external_order_id":"legacy-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(1999), env.payments.request.AmountMinor)
	assert.Equal(t, "legacy-1", env.payments.request.ExternalOrderID)
	assert.NotEmpty(t, env.payments.request.ClientIP)

	response := decodeBody[models.CreatePaymentResponse](t, rec)
	assert.Equal(t, "ORDER-1", response.OrderNo)
	assert.Equal(t, 19.99, response.Amount)
	assert.Equal(t, "prepay_id=wx1", response.PayParams.Package)
	assert.Equal(t, "2024-05-01T12:30:00Z", response.ExpiresAt)

	tests := []struct {
		name string
		body string
	}{
		{"zero amount", `{"amount":0,"description":"coffee"}`},
		{"too precise", `{"amount":1.999,"description":"coffee"}`},
		{"overflowing amount", `{"amount":1e30,"description":"coffee"}`},
		{"no description", `{"amount":1}`},
		{"not json", `amount=1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/orders", "user-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreatePaymentGatewayError(t *testing.T) {
	env := newTestEnv(t)
	env.payments.err = &gateway.GatewayError{Status: http.StatusBadRequest, Code: "PARAM_ERROR", Message: "openid mismatch"}

	rec := env.do(http.MethodPost, "/orders", "user-1", `{"amount":1,"description":"coffee"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	response := decodeBody[models.ErrorResponse](t, rec)
	assert.Equal(t, string(apperr.CodeGateway), response.Code)
	assert.Contains(t, response.Message, "openid mismatch")
	assert.Empty(t, response.Detail)
}

func TestGetOrders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/orders", "user-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	orderNo := validation.GenerateOrderNumber()
	paidAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	transactionID := "4200001"
	env.payments.orders = []entities.Order{{
		OrderNo:              orderNo,
		UserID:               "user-1",
		AmountMinor:          1999,
		Status:               entities.OrderStatusPaid,
		GatewayTransactionID: &transactionID,
		PaidAt:               &paidAt,
	}}

	rec = env.do(http.MethodGet, "/orders", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	orders := decodeBody[models.GetOrdersResponse](t, rec)
	require.Len(t, orders, 1)
	assert.Equal(t, 19.99, orders[0].Amount)
	assert.Equal(t, transactionID, orders[0].TransactionID)
	assert.Equal(t, "2024-05-01T12:00:00Z", orders[0].PaidAt)

	rec = env.do(http.MethodGet, "/orders/"+orderNo, "user-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/orders/"+orderNo, "user-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/orders/12345", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/orders/"+orderNo+"/cancel", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entities.OrderStatusCancelled, decodeBody[models.OrderResponse](t, rec).Status)
}

func TestWithdraw(t *testing.T) {
	env := newTestEnv(t)
	packageInfo := "pkg"
	env.withdrawals.result = entities.Withdrawal{
		BillNo:           "WD1",
		Status:           entities.WithdrawalStatusProcessing,
		AmountMinor:      50,
		OrderAmountTotal: 2000,
		CommissionRate:   decimal.RequireFromString("0.1"),
		RelatedOrders:    entities.RelatedOrders{{OrderNo: "A", AmountMinor: 2000}},
		PackageInfo:      &packageInfo,
	}

	rec := env.do(http.MethodPost, "/withdrawals", "user-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Nil(t, env.withdrawals.requested)

	response := decodeBody[models.WithdrawalResponse](t, rec)
	assert.Equal(t, 0.5, response.Amount)
	assert.Equal(t, 20.0, response.OrderAmountTotal)
	assert.Equal(t, "0.1", response.CommissionRate)
	assert.Equal(t, []string{"A"}, response.OrderNos)
	assert.Equal(t, "pkg", response.PackageInfo)

	rec = env.do(http.MethodPost, "/withdrawals", "user-1", `{"amount":0.3}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, env.withdrawals.requested)
	assert.Equal(t, int64(30), *env.withdrawals.requested)

	rec = env.do(http.MethodPost, "/withdrawals", "user-1", `{"amount":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/withdrawals", "user-1", `{"amount":1e30}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.withdrawals.err = apperr.ErrDailyLimitExhausted
	rec = env.do(http.MethodPost, "/withdrawals", "user-1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(apperr.CodeDailyLimitExhausted), decodeBody[models.ErrorResponse](t, rec).Code)
}

func TestWithdrawalsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/withdrawals", "user-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	env.withdrawals.result = entities.Withdrawal{BillNo: "WD1", Status: entities.WithdrawalStatusSuccess}

	rec = env.do(http.MethodGet, "/withdrawals", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[models.GetWithdrawalsResponse](t, rec), 1)

	rec = env.do(http.MethodPost, "/withdrawals/WD1/sync", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entities.WithdrawalStatusSuccess, decodeBody[models.WithdrawalResponse](t, rec).Status)

	rec = env.do(http.MethodPost, "/withdrawals/WD2/sync", "user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/withdrawals/cancel", "user-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	env.withdrawals.err = apperr.ErrInvalidState
	rec = env.do(http.MethodPost, "/withdrawals/cancel", "user-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetCommission(t *testing.T) {
	env := newTestEnv(t)
	env.withdrawals.summary = withdrawal.Summary{
		AvailableAmount: 223,
		OrderCount:      2,
		CommissionRate:  decimal.RequireFromString("0.1"),
		DailyRemaining:  77,
		SingleLimit:     20000,
		Processing:      &entities.Withdrawal{BillNo: "WD1", Status: entities.WithdrawalStatusProcessing},
	}

	rec := env.do(http.MethodGet, "/commission", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	response := decodeBody[models.CommissionResponse](t, rec)
	assert.Equal(t, 2.23, response.Available)
	assert.Equal(t, 0.77, response.DailyRemaining)
	assert.Equal(t, 200.0, response.SingleLimit)
	require.NotNil(t, response.Processing)
	assert.Equal(t, "WD1", response.Processing.BillNo)
}

func TestCallback(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewBufferString(`{"id":"evt-1"}`))
	req.Header.Set(callback.HeaderTimestamp, "1700000000")
	req.Header.Set(callback.HeaderNonce, "nonce")
	req.Header.Set(callback.HeaderSignature, "sig")
	req.Header.Set(callback.HeaderSerial, "serial")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.CallbackSuccess, decodeBody[models.CallbackResponse](t, rec).Code)
	assert.Equal(t, callback.Notification{
		Timestamp: "1700000000",
		Nonce:     "nonce",
		Signature: "sig",
		Serial:    "serial",
		Body:      []byte(`{"id":"evt-1"}`),
	}, env.callbacks.notification)

	env.callbacks.err = apperr.ErrSignature

	rec = env.do(http.MethodPost, "/callback", "", `{"id":"evt-2"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	response := decodeBody[models.CallbackResponse](t, rec)
	assert.Equal(t, models.CallbackFail, response.Code)
	assert.Equal(t, "invalid signature", response.Message)
}
