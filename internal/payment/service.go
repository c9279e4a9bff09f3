package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/VladKvetkin/minimart/internal/apperr"
	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/VladKvetkin/minimart/internal/gateway"
	"github.com/VladKvetkin/minimart/internal/ledger"
	"github.com/VladKvetkin/minimart/internal/storage"
	"go.uber.org/zap"
)

type Ledger interface {
	Create(ctx context.Context, spec ledger.OrderSpec) (entities.Order, error)
	FindByOrderNo(ctx context.Context, orderNo string) (entities.Order, bool, error)
	AttachPrepay(ctx context.Context, orderNo string, prepayRef string) error
	MarkFailed(ctx context.Context, orderNo string, reason string) error
	Cancel(ctx context.Context, orderNo string) (entities.Order, error)
}

type PaymentClient interface {
	CreatePaymentOrder(ctx context.Context, request gateway.CreatePaymentRequest) (gateway.CreatePaymentResult, error)
	CloseOrder(ctx context.Context, orderNo string) error
}

type CheckoutRequest struct {
	AmountMinor     int64
	Description     string
	ExternalOrderID string
	ClientIP        string
}

type Checkout struct {
	Order     entities.Order
	PayParams gateway.PayParams
	Simulated bool
}

// Service creates payable orders for the mini-program. The order is stored
// before the gateway is called so a callback can never arrive for an order
// the ledger does not know.
type Service struct {
	users  storage.UserStore
	orders storage.OrderStore
	ledger Ledger
	client PaymentClient
}

func NewService(users storage.UserStore, orders storage.OrderStore, ledger Ledger, client PaymentClient) *Service {
	return &Service{
		users:  users,
		orders: orders,
		ledger: ledger,
		client: client,
	}
}

func (s *Service) CreatePayment(ctx context.Context, userID string, request CheckoutRequest) (Checkout, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return Checkout{}, apperr.New(apperr.CodeNotFound, "user not found")
		}

		return Checkout{}, fmt.Errorf("error get user: %w", err)
	}

	spec := ledger.OrderSpec{
		UserID:          user.ID,
		PayerIdentity:   user.PayerIdentity,
		AmountMinor:     request.AmountMinor,
		Description:     request.Description,
		ExternalOrderID: request.ExternalOrderID,
	}

	if user.InviterID != nil {
		spec.InviterID = *user.InviterID
	}

	order, err := s.ledger.Create(ctx, spec)
	if err != nil {
		return Checkout{}, err
	}

	result, err := s.client.CreatePaymentOrder(ctx, gateway.CreatePaymentRequest{
		OrderNo:       order.OrderNo,
		AmountMinor:   order.AmountMinor,
		Description:   order.Description,
		PayerIdentity: order.PayerIdentity,
		ClientIP:      request.ClientIP,
		ExpiresAt:     order.ExpiresAt,
	})
	if err != nil {
		var gatewayErr *gateway.GatewayError
		if errors.As(err, &gatewayErr) {
			if markErr := s.ledger.MarkFailed(ctx, order.OrderNo, gatewayErr.Error()); markErr != nil {
				zap.L().Error("error mark order failed", zap.String("order_no", order.OrderNo), zap.Error(markErr))
			}
		}

		zap.L().Info("error create gateway payment", zap.String("order_no", order.OrderNo), zap.Error(err))

		return Checkout{}, err
	}

	if err := s.ledger.AttachPrepay(ctx, order.OrderNo, result.PrepayRef); err != nil {
		return Checkout{}, err
	}

	order.GatewayPrepayRef = &result.PrepayRef

	return Checkout{
		Order:     order,
		PayParams: result.PayParams,
		Simulated: result.Simulated,
	}, nil
}

func (s *Service) GetPayment(ctx context.Context, userID string, orderNo string) (entities.Order, error) {
	order, ok, err := s.ledger.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return entities.Order{}, err
	}

	// Another user's order is reported as missing.
	if !ok || order.UserID != userID {
		return entities.Order{}, apperr.New(apperr.CodeNotFound, "order "+orderNo+" not found")
	}

	return order, nil
}

// CancelPayment closes the gateway transaction before the order is cancelled
// locally, so a cancelled order can never be paid afterwards.
func (s *Service) CancelPayment(ctx context.Context, userID string, orderNo string) (entities.Order, error) {
	order, err := s.GetPayment(ctx, userID, orderNo)
	if err != nil {
		return entities.Order{}, err
	}

	if order.Status == entities.OrderStatusPending {
		if err := s.closeGatewayOrder(ctx, orderNo); err != nil {
			return entities.Order{}, err
		}
	}

	return s.ledger.Cancel(ctx, orderNo)
}

func (s *Service) closeGatewayOrder(ctx context.Context, orderNo string) error {
	err := s.client.CloseOrder(ctx, orderNo)
	if err == nil {
		return nil
	}

	var gatewayErr *gateway.GatewayError
	if errors.As(err, &gatewayErr) {
		switch {
		case gatewayErr.NotFound():
			return nil
		case gatewayErr.OrderPaid():
			return apperr.Wrap(apperr.CodeAlreadyPaid, "order "+orderNo+" is already paid", err)
		}
	}

	zap.L().Info("error close gateway order", zap.String("order_no", orderNo), zap.Error(err))

	return apperr.Wrap(apperr.CodeGateway, "cannot close order, try again later", err)
}

func (s *Service) ListPayments(ctx context.Context, userID string) ([]entities.Order, error) {
	orders, err := s.orders.GetUserOrders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error get user orders: %w", err)
	}

	return orders, nil
}
