package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/VladKvetkin/minimart/internal/models"
	"github.com/go-resty/resty/v2"
)

const paidOrderPath = "/api/orders/"

// Outcome classifies one delivery attempt.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeRetryable
	OutcomePermanent
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// LegacyLedgerClient pushes "order paid" events to the legacy ledger. It does
// not retry by itself, the Notifier owns the retry schedule.
type LegacyLedgerClient struct {
	apiAddress string
	client     *resty.Client
}

func NewLegacyLedgerClient(apiAddress string, timeout time.Duration) *LegacyLedgerClient {
	client := resty.New()

	client.
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &LegacyLedgerClient{
		apiAddress: apiAddress,
		client:     client,
	}
}

func (lc *LegacyLedgerClient) NotifyPaid(ctx context.Context, externalOrderID string, payerIdentity string) (Outcome, error) {
	url, err := lc.getPaidOrderPath(externalOrderID)
	if err != nil {
		return OutcomePermanent, err
	}

	response, err := lc.client.R().
		SetContext(ctx).
		SetBody(models.LedgerPaidRequest{OrderID: externalOrderID, PayerIdentity: payerIdentity}).
		Post(url)
	if err != nil {
		return OutcomeRetryable, fmt.Errorf("error request legacy ledger: %w", err)
	}

	var ledgerResponse models.LedgerPaidResponse
	if len(response.Body()) > 0 {
		if err := json.Unmarshal(response.Body(), &ledgerResponse); err != nil {
			ledgerResponse = models.LedgerPaidResponse{}
		}
	}

	return classify(response.StatusCode(), ledgerResponse)
}

func classify(statusCode int, response models.LedgerPaidResponse) (Outcome, error) {
	switch response.Status {
	case models.LedgerStatusPermanent:
		return OutcomePermanent, fmt.Errorf("legacy ledger rejected order permanently: %s", response.Message)
	case models.LedgerStatusRetryable:
		return OutcomeRetryable, fmt.Errorf("legacy ledger asked to retry: %s", response.Message)
	}

	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		return OutcomeDelivered, nil
	case statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError:
		return OutcomeRetryable, fmt.Errorf("legacy ledger unavailable, status %d", statusCode)
	default:
		return OutcomeUnknown, fmt.Errorf("legacy ledger answered status %d: %s", statusCode, response.Message)
	}
}

func (lc *LegacyLedgerClient) getPaidOrderPath(externalOrderID string) (string, error) {
	return url.JoinPath(lc.apiAddress, paidOrderPath, externalOrderID, "paid")
}
