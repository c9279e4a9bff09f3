package gateway

import (
	"fmt"
	"time"

	"github.com/VladKvetkin/minimart/internal/apperr"
)

type TradeState string

const (
	TradeStateSuccess    TradeState = "SUCCESS"
	TradeStateRefund     TradeState = "REFUND"
	TradeStateNotPay     TradeState = "NOTPAY"
	TradeStateClosed     TradeState = "CLOSED"
	TradeStateRevoked    TradeState = "REVOKED"
	TradeStateUserPaying TradeState = "USERPAYING"
	TradeStatePayError   TradeState = "PAYERROR"
)

// Completed reports whether the trade counts as paid.
func (s TradeState) Completed() bool {
	return s == TradeStateSuccess
}

type TransferState string

const (
	TransferStateAccepted        TransferState = "ACCEPTED"
	TransferStateProcessing      TransferState = "PROCESSING"
	TransferStateWaitUserConfirm TransferState = "WAIT_USER_CONFIRM"
	TransferStateTransfering     TransferState = "TRANSFERING"
	TransferStateSuccess         TransferState = "SUCCESS"
	TransferStateFail            TransferState = "FAIL"
	TransferStateCanceling       TransferState = "CANCELING"
	TransferStateCancelled       TransferState = "CANCELLED"
)

func (s TransferState) Final() bool {
	return s == TransferStateSuccess || s == TransferStateFail || s == TransferStateCancelled
}

const (
	EventTransactionSuccess   = "TRANSACTION.SUCCESS"
	EventTransferBillFinished = "MCHTRANSFER.BILL.FINISHED"
	EventRefundSuccess        = "REFUND.SUCCESS"

	EventPrefixTransaction = "TRANSACTION."
	EventPrefixRefund      = "REFUND."
)

// GatewayError is a non-2xx answer of the payment gateway.
type GatewayError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return apperr.ErrGateway
}

const (
	gatewayCodeNotFound  = "NOT_FOUND"
	gatewayCodeOrderPaid = "ORDERPAID"
)

func (e *GatewayError) NotFound() bool {
	return e.Code == gatewayCodeNotFound
}

// OrderPaid reports that the gateway refused to close an already paid order.
func (e *GatewayError) OrderPaid() bool {
	return e.Code == gatewayCodeOrderPaid
}

type CreatePaymentRequest struct {
	OrderNo       string
	AmountMinor   int64
	Description   string
	PayerIdentity string
	NotifyURL     string
	ClientIP      string
	ExpiresAt     time.Time
}

type CreatePaymentResult struct {
	PrepayRef string
	PayParams PayParams
	Simulated bool
}

type OrderStatus struct {
	TransactionID string
	OutTradeNo    string
	State         TradeState
	PaidAmount    int64
}

type SceneReportInfo struct {
	InfoType    string `json:"info_type"`
	InfoContent string `json:"info_content"`
}

type TransferRequest struct {
	BillNo          string
	AmountMinor     int64
	PayerIdentity   string
	Remark          string
	SceneReportInfo []SceneReportInfo
}

type TransferResult struct {
	BillNo      string
	TransferRef string
	State       TransferState
	PackageInfo string
}

type TransferStatus struct {
	BillNo      string
	TransferRef string
	State       TransferState
	AmountMinor int64
	FailReason  string
	FinishTime  *time.Time
}

type TradeAmount struct {
	Total      int64  `json:"total"`
	PayerTotal int64  `json:"payer_total,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

type Payer struct {
	OpenID string `json:"openid"`
}

type sceneInfo struct {
	PayerClientIP string `json:"payer_client_ip"`
}

type createPaymentBody struct {
	AppID       string      `json:"appid"`
	MchID       string      `json:"mchid"`
	Description string      `json:"description"`
	OutTradeNo  string      `json:"out_trade_no"`
	TimeExpire  string      `json:"time_expire,omitempty"`
	NotifyURL   string      `json:"notify_url"`
	Amount      TradeAmount `json:"amount"`
	Payer       Payer       `json:"payer"`
	SceneInfo   sceneInfo   `json:"scene_info"`
}

type createPaymentResponse struct {
	PrepayID string `json:"prepay_id"`
}

type queryOrderResponse struct {
	TransactionID string      `json:"transaction_id"`
	OutTradeNo    string      `json:"out_trade_no"`
	TradeState    string      `json:"trade_state"`
	Amount        TradeAmount `json:"amount"`
}

type transferBody struct {
	AppID                    string            `json:"appid"`
	OutBillNo                string            `json:"out_bill_no"`
	TransferSceneID          string            `json:"transfer_scene_id"`
	OpenID                   string            `json:"openid"`
	TransferAmount           int64             `json:"transfer_amount"`
	TransferRemark           string            `json:"transfer_remark"`
	NotifyURL                string            `json:"notify_url,omitempty"`
	TransferSceneReportInfos []SceneReportInfo `json:"transfer_scene_report_infos"`
}

type transferResponse struct {
	OutBillNo      string `json:"out_bill_no"`
	TransferBillNo string `json:"transfer_bill_no"`
	CreateTime     string `json:"create_time"`
	State          string `json:"state"`
	PackageInfo    string `json:"package_info"`
}

type queryTransferResponse struct {
	OutBillNo      string `json:"out_bill_no"`
	TransferBillNo string `json:"transfer_bill_no"`
	State          string `json:"state"`
	TransferAmount int64  `json:"transfer_amount"`
	FailReason     string `json:"fail_reason"`
	UpdateTime     string `json:"update_time"`
}

// Notification is the envelope of every callback.
type Notification struct {
	ID           string           `json:"id"`
	CreateTime   string           `json:"create_time"`
	EventType    string           `json:"event_type"`
	ResourceType string           `json:"resource_type"`
	Summary      string           `json:"summary"`
	Resource     ResourceEnvelope `json:"resource"`
}

type ResourceEnvelope struct {
	Algorithm      string `json:"algorithm"`
	Ciphertext     string `json:"ciphertext"`
	AssociatedData string `json:"associated_data"`
	OriginalType   string `json:"original_type"`
	Nonce          string `json:"nonce"`
}

// TransactionResource is the decrypted payload of TRANSACTION.* events.
type TransactionResource struct {
	AppID          string      `json:"appid"`
	MchID          string      `json:"mchid"`
	OutTradeNo     string      `json:"out_trade_no"`
	TransactionID  string      `json:"transaction_id"`
	TradeType      string      `json:"trade_type"`
	TradeState     string      `json:"trade_state"`
	TradeStateDesc string      `json:"trade_state_desc"`
	SuccessTime    string      `json:"success_time"`
	Payer          Payer       `json:"payer"`
	Amount         TradeAmount `json:"amount"`
}

// RefundResource is the decrypted payload of REFUND.* events.
type RefundResource struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	OutRefundNo   string `json:"out_refund_no"`
	RefundID      string `json:"refund_id"`
	RefundStatus  string `json:"refund_status"`
}

// TransferBillResource is the decrypted payload of MCHTRANSFER.BILL.FINISHED.
type TransferBillResource struct {
	OutBillNo      string `json:"out_bill_no"`
	TransferBillNo string `json:"transfer_bill_no"`
	State          string `json:"state"`
	MchID          string `json:"mch_id"`
	TransferAmount int64  `json:"transfer_amount"`
	OpenID         string `json:"openid"`
	FailReason     string `json:"fail_reason"`
	CreateTime     string `json:"create_time"`
	UpdateTime     string `json:"update_time"`
}
