package handler

import (
	"math"
	"net/http"

	"github.com/VladKvetkin/minimart/internal/models"
	"github.com/VladKvetkin/minimart/internal/services/converter"
)

func (h *Handler) GetCommission(res http.ResponseWriter, req *http.Request) {
	userID := h.getUserIDFromReqContext(req)
	if userID == "" {
		res.WriteHeader(http.StatusUnauthorized)
		return
	}

	summary, err := h.withdrawals.Summary(req.Context(), userID)
	if err != nil {
		h.writeError(res, err)
		return
	}

	response := models.CommissionResponse{
		Available:      converter.FormatAmount(summary.AvailableAmount),
		OrderCount:     summary.OrderCount,
		CommissionRate: summary.CommissionRate.String(),
		SingleLimit:    converter.FormatAmount(summary.SingleLimit),
	}

	// No daily limit configured.
	if summary.DailyRemaining != math.MaxInt64 {
		response.DailyRemaining = converter.FormatAmount(summary.DailyRemaining)
	} else {
		response.DailyRemaining = -1
	}

	if summary.Processing != nil {
		processing := withdrawalResponse(*summary.Processing)
		response.Processing = &processing
	}

	h.writeJSON(res, http.StatusOK, response)
}
