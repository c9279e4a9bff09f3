package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/VladKvetkin/minimart/internal/models"
	"github.com/VladKvetkin/minimart/internal/storage"
	"github.com/VladKvetkin/minimart/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu       sync.Mutex
	outcomes []Outcome
	calls    int
}

func (f *fakeLedger) NotifyPaid(ctx context.Context, externalOrderID string, payerIdentity string) (Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	outcome := f.outcomes[len(f.outcomes)-1]
	if f.calls < len(f.outcomes) {
		outcome = f.outcomes[f.calls]
	}
	f.calls++

	if outcome == OutcomeDelivered {
		return outcome, nil
	}

	return outcome, errors.New("ledger says " + outcome.String())
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func newTestNotifier(t *testing.T, ledger LedgerClient) (*Notifier, *storage.SQLStorage, *[]time.Duration) {
	t.Helper()

	store := storagetest.New(t)
	n := NewNotifier(ledger, store, store, Config{Attempts: 3, Backoff: time.Second, Workers: 1, QueueSize: 4, SweepLimit: 10})

	var delays []time.Duration
	n.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	return n, store, &delays
}

func TestNotifyPaidDeliveredOnce(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{outcomes: []Outcome{OutcomeDelivered}}
	n, store, _ := newTestNotifier(t, ledger)

	require.NoError(t, n.NotifyPaid(ctx, "legacy-1", "openid-1"))
	require.NoError(t, n.NotifyPaid(ctx, "legacy-1", "openid-1"))

	assert.Equal(t, 1, ledger.callCount())

	record, err := store.GetNotification(ctx, "legacy-1")
	require.NoError(t, err)
	assert.Equal(t, entities.NotificationDelivered, record.Outcome)
	assert.Equal(t, 1, record.Attempts)
}

func TestNotifyPaidRetriesWithLinearBackoff(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{outcomes: []Outcome{OutcomeRetryable, OutcomeUnknown, OutcomeDelivered}}
	n, store, delays := newTestNotifier(t, ledger)

	require.NoError(t, n.NotifyPaid(ctx, "legacy-2", "openid-1"))

	assert.Equal(t, 3, ledger.callCount())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)

	record, err := store.GetNotification(ctx, "legacy-2")
	require.NoError(t, err)
	assert.Equal(t, 3, record.Attempts)
}

func TestNotifyPaidGivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{outcomes: []Outcome{OutcomeRetryable}}
	n, store, _ := newTestNotifier(t, ledger)

	err := n.NotifyPaid(ctx, "legacy-3", "openid-1")
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, 3, ledger.callCount())

	_, err = store.GetNotification(ctx, "legacy-3")
	assert.ErrorIs(t, err, storage.ErrNoRows)
}

func TestNotifyPaidPermanentStopsImmediately(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{outcomes: []Outcome{OutcomePermanent}}
	n, store, delays := newTestNotifier(t, ledger)

	err := n.NotifyPaid(ctx, "legacy-4", "openid-1")
	assert.ErrorIs(t, err, ErrPermanentRejection)
	assert.Equal(t, 1, ledger.callCount())
	assert.Empty(t, *delays)

	record, err := store.GetNotification(ctx, "legacy-4")
	require.NoError(t, err)
	assert.Equal(t, entities.NotificationRejected, record.Outcome)
	require.NotNil(t, record.LastError)

	require.NoError(t, n.NotifyPaid(ctx, "legacy-4", "openid-1"))
	assert.Equal(t, 1, ledger.callCount())
}

func TestSweepNotifiesPaidOrders(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{outcomes: []Outcome{OutcomeDelivered}}
	n, store, _ := newTestNotifier(t, ledger)

	external := "legacy-5"
	now := time.Now()
	require.NoError(t, store.CreateOrder(ctx, entities.Order{
		OrderNo:         "900",
		UserID:          "user-1",
		PayerIdentity:   "openid-1",
		AmountMinor:     100,
		Description:     "tea",
		Status:          entities.OrderStatusPending,
		ExternalOrderID: &external,
		CreatedAt:       now,
		ExpiresAt:       now.Add(entities.OrderTTL),
	}))
	require.NoError(t, store.MarkOrderPaid(ctx, "900", entities.OrderPayment{TransactionID: "T900", PaidAt: now}))

	require.NoError(t, n.sweep(ctx))
	require.NoError(t, n.sweep(ctx))

	assert.Equal(t, 1, ledger.callCount())
}

func TestStartDrainsQueue(t *testing.T) {
	ledger := &fakeLedger{outcomes: []Outcome{OutcomeDelivered}}
	n, _, _ := newTestNotifier(t, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- n.Start(ctx)
	}()

	assert.True(t, n.Enqueue(Event{ExternalOrderID: "legacy-6", PayerIdentity: "openid-1"}))
	assert.Eventually(t, func() bool { return ledger.callCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestEnqueueDoesNotBlockWhenFull(t *testing.T) {
	n, _, _ := newTestNotifier(t, &fakeLedger{outcomes: []Outcome{OutcomeDelivered}})

	for i := 0; i < 4; i++ {
		assert.True(t, n.Enqueue(Event{ExternalOrderID: "x"}))
	}

	assert.False(t, n.Enqueue(Event{ExternalOrderID: "overflow"}))
}

func TestLegacyLedgerClientClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		outcome Outcome
	}{
		{"delivered", http.StatusOK, `{"status":"OK"}`, OutcomeDelivered},
		{"empty body", http.StatusNoContent, ``, OutcomeDelivered},
		{"permanent", http.StatusConflict, `{"status":"PERMANENT","message":"inventory exhausted"}`, OutcomePermanent},
		{"retryable body", http.StatusOK, `{"status":"RETRYABLE"}`, OutcomeRetryable},
		{"server error", http.StatusBadGateway, ``, OutcomeRetryable},
		{"unknown", http.StatusBadRequest, `{"message":"what"}`, OutcomeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/orders/legacy-1/paid", r.URL.Path)

				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			outcome, err := NewLegacyLedgerClient(server.URL, time.Second).NotifyPaid(context.Background(), "legacy-1", "openid-1")

			assert.Equal(t, tt.outcome, outcome)
			if tt.outcome == OutcomeDelivered {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestClassifyIgnoresMessageWording(t *testing.T) {
	outcome, _ := classify(http.StatusBadRequest, models.LedgerPaidResponse{Message: "inventory exhausted"})
	assert.Equal(t, OutcomeUnknown, outcome)
}
