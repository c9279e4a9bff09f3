package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/VladKvetkin/minimart/internal/apperr"
	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/VladKvetkin/minimart/internal/models"
	"github.com/VladKvetkin/minimart/internal/services/converter"
	"github.com/go-chi/chi/v5"
)

// Withdraw pays out the caller's commission. The body is optional; without an
// amount everything available within the limits is requested.
func (h *Handler) Withdraw(res http.ResponseWriter, req *http.Request) {
	userID := h.getUserIDFromReqContext(req)
	if userID == "" {
		res.WriteHeader(http.StatusUnauthorized)
		return
	}

	var requestModel models.WithdrawRequest
	if err := h.decodeRequest(res, req, &requestModel); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(res, err)
		return
	}

	var requested *int64

	if requestModel.Amount != nil {
		amount, err := converter.ConvertAmount(*requestModel.Amount)
		if err != nil {
			h.writeError(res, apperr.Wrap(apperr.CodeValidation, "amount must be within range and have at most 2 decimal places", err))
			return
		}

		requested = &amount
	}

	withdrawal, err := h.withdrawals.RequestWithdrawal(req.Context(), userID, requested)
	if err != nil {
		h.writeError(res, err)
		return
	}

	h.writeJSON(res, http.StatusAccepted, withdrawalResponse(withdrawal))
}

func (h *Handler) CancelWithdrawal(res http.ResponseWriter, req *http.Request) {
	userID := h.getUserIDFromReqContext(req)
	if userID == "" {
		res.WriteHeader(http.StatusUnauthorized)
		return
	}

	if err := h.withdrawals.CancelProcessing(req.Context(), userID); err != nil {
		h.writeError(res, err)
		return
	}

	res.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetWithdrawals(res http.ResponseWriter, req *http.Request) {
	userID := h.getUserIDFromReqContext(req)
	if userID == "" {
		res.WriteHeader(http.StatusUnauthorized)
		return
	}

	withdrawals, err := h.withdrawals.Withdrawals(req.Context(), userID)
	if err != nil {
		h.writeError(res, err)
		return
	}

	if len(withdrawals) == 0 {
		res.WriteHeader(http.StatusNoContent)
		return
	}

	responseWithdrawals := make(models.GetWithdrawalsResponse, 0, len(withdrawals))
	for _, withdrawal := range withdrawals {
		responseWithdrawals = append(responseWithdrawals, withdrawalResponse(withdrawal))
	}

	h.writeJSON(res, http.StatusOK, responseWithdrawals)
}

// SyncWithdrawal asks the gateway for the transfer state of one bill. Used by
// the client after the user returns from the confirmation page.
func (h *Handler) SyncWithdrawal(res http.ResponseWriter, req *http.Request) {
	userID := h.getUserIDFromReqContext(req)
	if userID == "" {
		res.WriteHeader(http.StatusUnauthorized)
		return
	}

	withdrawal, err := h.withdrawals.SyncUserTransfer(req.Context(), userID, chi.URLParam(req, "billNo"))
	if err != nil {
		h.writeError(res, err)
		return
	}

	h.writeJSON(res, http.StatusOK, withdrawalResponse(withdrawal))
}

func withdrawalResponse(withdrawal entities.Withdrawal) models.WithdrawalResponse {
	response := models.WithdrawalResponse{
		BillNo:           withdrawal.BillNo,
		Status:           withdrawal.Status,
		Amount:           converter.FormatAmount(withdrawal.AmountMinor),
		OrderAmountTotal: converter.FormatAmount(withdrawal.OrderAmountTotal),
		CommissionRate:   withdrawal.CommissionRate.String(),
		OrderNos:         withdrawal.OrderNos(),
		CreatedAt:        withdrawal.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        withdrawal.UpdatedAt.Format(time.RFC3339),
	}

	if withdrawal.PackageInfo != nil {
		response.PackageInfo = *withdrawal.PackageInfo
	}

	if withdrawal.FailReason != nil {
		response.FailReason = *withdrawal.FailReason
	}

	return response
}
