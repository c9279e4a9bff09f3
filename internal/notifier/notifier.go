package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/VladKvetkin/minimart/internal/services/keylock"
	"github.com/VladKvetkin/minimart/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueSize  = 256
	defaultSweepLimit = 100
)

var (
	ErrPermanentRejection = errors.New("legacy ledger rejected order permanently")
	ErrDeliveryFailed     = errors.New("legacy ledger notification failed")
)

type LedgerClient interface {
	NotifyPaid(ctx context.Context, externalOrderID string, payerIdentity string) (Outcome, error)
}

type Config struct {
	Attempts      int
	Backoff       time.Duration
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
	SweepLimit    int
}

type Event struct {
	ExternalOrderID string
	PayerIdentity   string
}

// Notifier delivers "order paid" events to the legacy ledger at least once.
// Delivery never feeds back into the order state.
type Notifier struct {
	client        LedgerClient
	notifications storage.NotificationStore
	orders        storage.OrderStore
	config        Config
	locks         *keylock.KeyLock
	queue         chan Event
	sleep         func(context.Context, time.Duration) error
	now           func() time.Time
}

func NewNotifier(client LedgerClient, notifications storage.NotificationStore, orders storage.OrderStore, config Config) *Notifier {
	if config.Attempts < 1 {
		config.Attempts = 1
	}

	if config.Workers < 1 {
		config.Workers = 1
	}

	if config.QueueSize < 1 {
		config.QueueSize = defaultQueueSize
	}

	if config.SweepLimit < 1 {
		config.SweepLimit = defaultSweepLimit
	}

	return &Notifier{
		client:        client,
		notifications: notifications,
		orders:        orders,
		config:        config,
		locks:         keylock.New(),
		queue:         make(chan Event, config.QueueSize),
		sleep:         sleepContext,
		now:           time.Now,
	}
}

// NotifyPaid runs one delivery series for the order unless the order was
// already notified. Between attempts it waits attempt × Backoff.
func (n *Notifier) NotifyPaid(ctx context.Context, externalOrderID string, payerIdentity string) error {
	unlock := n.locks.Lock(externalOrderID)
	defer unlock()

	if _, err := n.notifications.GetNotification(ctx, externalOrderID); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNoRows) {
		return fmt.Errorf("error get notification record: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= n.config.Attempts; attempt++ {
		outcome, err := n.client.NotifyPaid(ctx, externalOrderID, payerIdentity)

		switch outcome {
		case OutcomeDelivered:
			n.record(ctx, externalOrderID, payerIdentity, entities.NotificationDelivered, attempt, nil)

			zap.L().Info("legacy ledger notified", zap.String("external_order_id", externalOrderID), zap.Int("attempt", attempt))
			return nil
		case OutcomePermanent:
			n.record(ctx, externalOrderID, payerIdentity, entities.NotificationRejected, attempt, err)

			zap.L().Error("legacy ledger rejected order", zap.String("external_order_id", externalOrderID), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrPermanentRejection, err)
		}

		lastErr = err

		zap.L().Warn(
			"error notify legacy ledger",
			zap.String("external_order_id", externalOrderID),
			zap.Int("attempt", attempt),
			zap.Stringer("outcome", outcome),
			zap.Error(err),
		)

		if attempt < n.config.Attempts {
			if err := n.sleep(ctx, time.Duration(attempt)*n.config.Backoff); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrDeliveryFailed, n.config.Attempts, lastErr)
}

func (n *Notifier) record(ctx context.Context, externalOrderID string, payerIdentity string, outcome string, attempts int, cause error) {
	record := entities.NotificationRecord{
		ExternalOrderID: externalOrderID,
		PayerIdentity:   payerIdentity,
		Outcome:         outcome,
		Attempts:        attempts,
		NotifiedAt:      n.now(),
	}

	if cause != nil {
		message := cause.Error()
		record.LastError = &message
	}

	if err := n.notifications.SaveNotification(ctx, record); err != nil && !errors.Is(err, storage.ErrConflict) {
		zap.L().Error("error save notification record", zap.String("external_order_id", externalOrderID), zap.Error(err))
	}
}

// Enqueue hands an event to the workers without blocking. A full queue drops
// the event; the periodic sweep picks the order up later.
func (n *Notifier) Enqueue(event Event) bool {
	select {
	case n.queue <- event:
		return true
	default:
		zap.L().Warn("notification queue is full", zap.String("external_order_id", event.ExternalOrderID))
		return false
	}
}

func (n *Notifier) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	for i := 0; i < n.config.Workers; i++ {
		eg.Go(func() error {
			for {
				select {
				case event := <-n.queue:
					if err := n.NotifyPaid(ctx, event.ExternalOrderID, event.PayerIdentity); err != nil {
						zap.L().Info("error notify paid order", zap.String("external_order_id", event.ExternalOrderID), zap.Error(err))
					}
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	if n.config.SweepInterval > 0 {
		eg.Go(func() error {
			ticker := time.NewTicker(n.config.SweepInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					if err := n.sweep(ctx); err != nil {
						zap.L().Info("error sweep paid orders", zap.Error(err))
					}
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	return eg.Wait()
}

// sweep re-drives paid orders that have no notification record yet.
func (n *Notifier) sweep(ctx context.Context) error {
	orders, err := n.orders.GetOrdersPendingNotification(ctx, n.config.SweepLimit)
	if err != nil {
		return err
	}

	for _, order := range orders {
		if err := n.NotifyPaid(ctx, order.ExternalID(), order.PayerIdentity); err != nil {
			zap.L().Info("error notify paid order", zap.String("order_no", order.OrderNo), zap.Error(err))
		}

		if ctx.Err() != nil {
			return nil
		}
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
