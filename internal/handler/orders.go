package handler

import (
	"net"
	"net/http"
	"time"

	"github.com/VladKvetkin/minimart/internal/apperr"
	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/VladKvetkin/minimart/internal/models"
	"github.com/VladKvetkin/minimart/internal/payment"
	"github.com/VladKvetkin/minimart/internal/services/converter"
	"github.com/VladKvetkin/minimart/internal/services/validation"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) CreatePayment(res http.ResponseWriter, req *http.Request) {
	userID := h.getUserIDFromReqContext(req)
	if userID == "" {
		res.WriteHeader(http.StatusUnauthorized)
		return
	}

	var requestModel models.CreatePaymentRequest
	if err := h.decodeRequest(res, req, &requestModel); err != nil {
		h.writeError(res, err)
		return
	}

	amount, err := converter.ConvertAmount(requestModel.Amount)
	if err != nil {
		h.writeError(res, apperr.Wrap(apperr.CodeValidation, "amount must be within range and have at most 2 decimal places", err))
		return
	}

	checkout, err := h.payments.CreatePayment(req.Context(), userID, payment.CheckoutRequest{
		AmountMinor:     amount,
		Description:     requestModel.Description,
		ExternalOrderID: requestModel.ExternalOrderID,
		ClientIP:        clientIP(req),
	})
	if err != nil {
		h.writeError(res, err)
		return
	}

	h.writeJSON(res, http.StatusCreated, models.CreatePaymentResponse{
		OrderNo:   checkout.Order.OrderNo,
		Amount:    converter.FormatAmount(checkout.Order.AmountMinor),
		ExpiresAt: checkout.Order.ExpiresAt.Format(time.RFC3339),
		Simulated: checkout.Simulated,
		PayParams: models.PayParamsResponse{
			TimeStamp: checkout.PayParams.TimeStamp,
			NonceStr:  checkout.PayParams.NonceStr,
			Package:   checkout.PayParams.Package,
			SignType:  checkout.PayParams.SignType,
			PaySign:   checkout.PayParams.PaySign,
		},
	})
}

func (h *Handler) GetOrders(res http.ResponseWriter, req *http.Request) {
	userID := h.getUserIDFromReqContext(req)
	if userID == "" {
		res.WriteHeader(http.StatusUnauthorized)
		return
	}

	orders, err := h.payments.ListPayments(req.Context(), userID)
	if err != nil {
		h.writeError(res, err)
		return
	}

	if len(orders) == 0 {
		res.WriteHeader(http.StatusNoContent)
		return
	}

	responseOrders := make(models.GetOrdersResponse, 0, len(orders))
	for _, order := range orders {
		responseOrders = append(responseOrders, orderResponse(order))
	}

	h.writeJSON(res, http.StatusOK, responseOrders)
}

func (h *Handler) GetOrder(res http.ResponseWriter, req *http.Request) {
	userID := h.getUserIDFromReqContext(req)
	if userID == "" {
		res.WriteHeader(http.StatusUnauthorized)
		return
	}

	orderNo := chi.URLParam(req, "orderNo")
	if err := validation.LuhnValidate(orderNo); err != nil {
		h.writeError(res, apperr.Wrap(apperr.CodeValidation, "malformed order number", err))
		return
	}

	order, err := h.payments.GetPayment(req.Context(), userID, orderNo)
	if err != nil {
		h.writeError(res, err)
		return
	}

	h.writeJSON(res, http.StatusOK, orderResponse(order))
}

func (h *Handler) CancelOrder(res http.ResponseWriter, req *http.Request) {
	userID := h.getUserIDFromReqContext(req)
	if userID == "" {
		res.WriteHeader(http.StatusUnauthorized)
		return
	}

	orderNo := chi.URLParam(req, "orderNo")
	if err := validation.LuhnValidate(orderNo); err != nil {
		h.writeError(res, apperr.Wrap(apperr.CodeValidation, "malformed order number", err))
		return
	}

	order, err := h.payments.CancelPayment(req.Context(), userID, orderNo)
	if err != nil {
		h.writeError(res, err)
		return
	}

	h.writeJSON(res, http.StatusOK, orderResponse(order))
}

func orderResponse(order entities.Order) models.OrderResponse {
	response := models.OrderResponse{
		OrderNo:         order.OrderNo,
		Status:          order.Status,
		Amount:          converter.FormatAmount(order.AmountMinor),
		Description:     order.Description,
		ExternalOrderID: order.ExternalID(),
		TransactionID:   order.TransactionID(),
		CreatedAt:       order.CreatedAt.Format(time.RFC3339),
		ExpiresAt:       order.ExpiresAt.Format(time.RFC3339),
	}

	if order.PaidAt != nil {
		response.PaidAt = order.PaidAt.Format(time.RFC3339)
	}

	return response
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}

	return host
}
