package handler

import (
	"io"
	"net/http"

	"github.com/VladKvetkin/minimart/internal/apperr"
	"github.com/VladKvetkin/minimart/internal/callback"
	"github.com/VladKvetkin/minimart/internal/models"
	"go.uber.org/zap"
)

// Callback receives gateway notifications. The raw body is kept intact since
// the signature covers it byte for byte. Any failure answers FAIL so the
// gateway redelivers.
func (h *Handler) Callback(res http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(res, req.Body, maxBodySize))
	if err != nil {
		zap.L().Info("cannot read callback body", zap.Error(err))

		h.writeJSON(res, http.StatusBadRequest, models.CallbackResponse{Code: models.CallbackFail, Message: "cannot read body"})
		return
	}

	notification := callback.Notification{
		Timestamp: req.Header.Get(callback.HeaderTimestamp),
		Nonce:     req.Header.Get(callback.HeaderNonce),
		Signature: req.Header.Get(callback.HeaderSignature),
		Serial:    req.Header.Get(callback.HeaderSerial),
		Body:      body,
	}

	if err := h.callbacks.Process(req.Context(), notification); err != nil {
		zap.L().Error("error process callback", zap.String("code", string(apperr.CodeOf(err))), zap.Error(err))

		h.writeJSON(res, http.StatusInternalServerError, models.CallbackResponse{Code: models.CallbackFail, Message: apperr.MessageOf(err)})
		return
	}

	h.writeJSON(res, http.StatusOK, models.CallbackResponse{Code: models.CallbackSuccess})
}
