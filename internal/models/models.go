package models

type LoginRequest struct {
	OpenID     string `json:"openid" validate:"required,max=128"`
	InviteCode string `json:"invite_code,omitempty" validate:"omitempty,alphanum,max=32"`
}

type LoginResponse struct {
	UserID     string `json:"user_id"`
	InviteCode string `json:"invite_code"`
	Token      string `json:"token"`
}

type CreatePaymentRequest struct {
	Amount          float64 `json:"amount" validate:"gt=0"`
	Description     string  `json:"description" validate:"required,max=127"`
	ExternalOrderID string  `json:"external_order_id,omitempty" validate:"omitempty,max=64"`
}

type PayParamsResponse struct {
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

type CreatePaymentResponse struct {
	OrderNo   string            `json:"order_no"`
	Amount    float64           `json:"amount"`
	ExpiresAt string            `json:"expires_at"`
	Simulated bool              `json:"simulated"`
	PayParams PayParamsResponse `json:"pay_params"`
}

type GetOrdersResponse []OrderResponse

type OrderResponse struct {
	OrderNo         string  `json:"order_no"`
	Status          string  `json:"status"`
	Amount          float64 `json:"amount"`
	Description     string  `json:"description"`
	ExternalOrderID string  `json:"external_order_id,omitempty"`
	TransactionID   string  `json:"transaction_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
	PaidAt          string  `json:"paid_at,omitempty"`
	ExpiresAt       string  `json:"expires_at"`
}

type WithdrawRequest struct {
	Amount *float64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
}

type GetWithdrawalsResponse []WithdrawalResponse

type WithdrawalResponse struct {
	BillNo           string   `json:"bill_no"`
	Status           string   `json:"status"`
	Amount           float64  `json:"amount"`
	OrderAmountTotal float64  `json:"order_amount_total"`
	CommissionRate   string   `json:"commission_rate"`
	OrderNos         []string `json:"order_nos"`
	PackageInfo      string   `json:"package_info,omitempty"`
	FailReason       string   `json:"fail_reason,omitempty"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

type CommissionResponse struct {
	Available      float64             `json:"available"`
	OrderCount     int                 `json:"order_count"`
	CommissionRate string              `json:"commission_rate"`
	DailyRemaining float64             `json:"daily_remaining"`
	SingleLimit    float64             `json:"single_limit"`
	Processing     *WithdrawalResponse `json:"processing,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// CallbackResponse is the acknowledgement body the payment gateway expects.
type CallbackResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

const (
	CallbackSuccess = "SUCCESS"
	CallbackFail    = "FAIL"
)

// Legacy ledger contract. Status carries the classification; Message is for
// humans only.
type LedgerPaidRequest struct {
	OrderID       string `json:"order_id"`
	PayerIdentity string `json:"payer_identity"`
}

type LedgerPaidResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const (
	LedgerStatusOK        = "OK"
	LedgerStatusRetryable = "RETRYABLE"
	LedgerStatusPermanent = "PERMANENT"
)
