package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	createPaymentPath  = "/v3/pay/transactions/jsapi"
	queryOrderPath     = "/v3/pay/transactions/id/"
	closeOrderPath     = "/v3/pay/transactions/out-trade-no/"
	transferPath       = "/v3/fund-app/mch-transfer/transfer-bills"
	transferByBillPath = "/v3/fund-app/mch-transfer/transfer-bills/out-bill-no/"

	currencyCNY   = "CNY"
	simulatedSign = "SIMULATED"
)

var ErrNotConfigured = errors.New("payment gateway credentials are not configured")

type Config struct {
	BaseURL           string
	AppID             string
	MchID             string
	NotifyURL         string
	TransferNotifyURL string
	TransferSceneID   string
	Timeout           time.Duration
}

// Client talks to the payment gateway. Queries go through a retrying client;
// submissions never retry on their own because a repeated submission is not
// safe until the previous attempt was looked up by its bill number.
type Client struct {
	config       Config
	signer       *Signer
	queryClient  *resty.Client
	submitClient *resty.Client
}

// NewClient builds a client. A nil signer means no merchant credentials were
// provisioned: payment creation is simulated and everything else fails with
// ErrNotConfigured.
func NewClient(config Config, signer *Signer) *Client {
	return &Client{
		config:       config,
		signer:       signer,
		queryClient:  initClient(config.Timeout, 3),
		submitClient: initClient(config.Timeout, 0),
	}
}

func initClient(timeout time.Duration, retries int) *resty.Client {
	client := resty.New()

	client.
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	if retries > 0 {
		client.
			SetRetryCount(retries).
			SetRetryWaitTime(2 * time.Second).
			SetRetryMaxWaitTime(10 * time.Second).
			AddRetryCondition(func(response *resty.Response, err error) bool {
				return err != nil || response.StatusCode() >= http.StatusInternalServerError
			})
	}

	return client
}

func (c *Client) Simulated() bool {
	return c.signer == nil
}

func (c *Client) CreatePaymentOrder(ctx context.Context, request CreatePaymentRequest) (CreatePaymentResult, error) {
	if c.Simulated() {
		zap.L().Warn("payment gateway credentials missing, returning simulated prepay", zap.String("order_no", request.OrderNo))

		return CreatePaymentResult{
			PrepayRef: "SIMULATED_" + request.OrderNo,
			PayParams: PayParams{
				TimeStamp: strconv.FormatInt(time.Now().Unix(), 10),
				NonceStr:  NewNonce(),
				Package:   "prepay_id=SIMULATED_" + request.OrderNo,
				SignType:  paySignType,
				PaySign:   simulatedSign,
			},
			Simulated: true,
		}, nil
	}

	notifyURL := request.NotifyURL
	if notifyURL == "" {
		notifyURL = c.config.NotifyURL
	}

	body := createPaymentBody{
		AppID:       c.config.AppID,
		MchID:       c.config.MchID,
		Description: request.Description,
		OutTradeNo:  request.OrderNo,
		NotifyURL:   notifyURL,
		Amount:      TradeAmount{Total: request.AmountMinor, Currency: currencyCNY},
		Payer:       Payer{OpenID: request.PayerIdentity},
		SceneInfo:   sceneInfo{PayerClientIP: request.ClientIP},
	}

	if !request.ExpiresAt.IsZero() {
		body.TimeExpire = request.ExpiresAt.Format(time.RFC3339)
	}

	var response createPaymentResponse
	if err := c.do(ctx, c.submitClient, http.MethodPost, createPaymentPath, body, &response); err != nil {
		return CreatePaymentResult{}, err
	}

	payParams, err := c.signer.BuildMiniProgramPayParams(response.PrepayID)
	if err != nil {
		return CreatePaymentResult{}, err
	}

	return CreatePaymentResult{
		PrepayRef: response.PrepayID,
		PayParams: payParams,
	}, nil
}

func (c *Client) QueryOrderStatus(ctx context.Context, transactionID string) (OrderStatus, error) {
	if c.Simulated() {
		return OrderStatus{}, ErrNotConfigured
	}

	path := queryOrderPath + url.PathEscape(transactionID) + "?mchid=" + url.QueryEscape(c.config.MchID)

	var response queryOrderResponse
	if err := c.do(ctx, c.queryClient, http.MethodGet, path, nil, &response); err != nil {
		return OrderStatus{}, err
	}

	paid := response.Amount.PayerTotal
	if paid == 0 {
		paid = response.Amount.Total
	}

	return OrderStatus{
		TransactionID: response.TransactionID,
		OutTradeNo:    response.OutTradeNo,
		State:         TradeState(response.TradeState),
		PaidAmount:    paid,
	}, nil
}

// Transfer submits a payout. The answer only acknowledges the submission.
type closeOrderRequest struct {
	MchID string `json:"mchid"`
}

// CloseOrder closes the gateway transaction of an unpaid order so it can no
// longer be paid. Simulated orders never reached the gateway and close
// trivially.
func (c *Client) CloseOrder(ctx context.Context, orderNo string) error {
	if c.Simulated() {
		return nil
	}

	path := closeOrderPath + url.PathEscape(orderNo) + "/close"

	return c.do(ctx, c.submitClient, http.MethodPost, path, closeOrderRequest{MchID: c.config.MchID}, nil)
}

func (c *Client) Transfer(ctx context.Context, request TransferRequest) (TransferResult, error) {
	if c.Simulated() {
		return TransferResult{}, ErrNotConfigured
	}

	body := transferBody{
		AppID:                    c.config.AppID,
		OutBillNo:                request.BillNo,
		TransferSceneID:          c.config.TransferSceneID,
		OpenID:                   request.PayerIdentity,
		TransferAmount:           request.AmountMinor,
		TransferRemark:           request.Remark,
		NotifyURL:                c.config.TransferNotifyURL,
		TransferSceneReportInfos: request.SceneReportInfo,
	}

	var response transferResponse
	if err := c.do(ctx, c.submitClient, http.MethodPost, transferPath, body, &response); err != nil {
		return TransferResult{}, err
	}

	return TransferResult{
		BillNo:      response.OutBillNo,
		TransferRef: response.TransferBillNo,
		State:       TransferState(response.State),
		PackageInfo: response.PackageInfo,
	}, nil
}

func (c *Client) QueryTransfer(ctx context.Context, billNo string) (TransferStatus, error) {
	if c.Simulated() {
		return TransferStatus{}, ErrNotConfigured
	}

	var response queryTransferResponse
	if err := c.do(ctx, c.queryClient, http.MethodGet, transferByBillPath+url.PathEscape(billNo), nil, &response); err != nil {
		return TransferStatus{}, err
	}

	status := TransferStatus{
		BillNo:      response.OutBillNo,
		TransferRef: response.TransferBillNo,
		State:       TransferState(response.State),
		AmountMinor: response.TransferAmount,
		FailReason:  response.FailReason,
	}

	if status.State.Final() && response.UpdateTime != "" {
		if finishTime, err := time.Parse(time.RFC3339, response.UpdateTime); err == nil {
			status.FinishTime = &finishTime
		}
	}

	return status, nil
}

func (c *Client) CancelTransfer(ctx context.Context, billNo string) error {
	if c.Simulated() {
		return ErrNotConfigured
	}

	return c.do(ctx, c.submitClient, http.MethodPost, transferByBillPath+url.PathEscape(billNo)+"/cancel", nil, nil)
}

func (c *Client) do(ctx context.Context, client *resty.Client, method string, path string, payload any, result any) error {
	var body []byte

	if payload != nil {
		var err error

		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("cannot encode gateway request: %w", err)
		}
	}

	authorization, err := c.signer.AuthorizationHeader(method, path, body)
	if err != nil {
		return err
	}

	request := client.R().
		SetContext(ctx).
		SetHeader("Authorization", authorization)

	if body != nil {
		request.SetBody(body)
	}

	response, err := request.Execute(method, c.config.BaseURL+path)
	if err != nil {
		return fmt.Errorf("error request gateway %s %s: %w", method, path, err)
	}

	if response.IsError() {
		gatewayErr := &GatewayError{Status: response.StatusCode()}
		if err := json.Unmarshal(response.Body(), gatewayErr); err != nil || gatewayErr.Code == "" {
			gatewayErr.Code = http.StatusText(response.StatusCode())
			gatewayErr.Message = string(response.Body())
		}

		return gatewayErr
	}

	if result == nil || len(response.Body()) == 0 {
		return nil
	}

	if err := json.Unmarshal(response.Body(), result); err != nil {
		return fmt.Errorf("cannot decode gateway response: %w", err)
	}

	return nil
}
