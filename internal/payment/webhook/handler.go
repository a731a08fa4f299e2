package webhook

import (
	"errors"
	"io"
	"net/http"

	"marketplace-be/internal/apperror"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/utils"

	"go.uber.org/zap"
)

const (
	SignatureHeader = "Signature"
	Path            = "/webhooks/orders/change-order-status"

	defaultMaxBodyBytes = 64 << 10
)

type Handler struct {
	svc          *Service
	maxBodyBytes int64
}

func NewHandler(svc *Service, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{svc: svc, maxBodyBytes: maxBodyBytes}
}

// ServeHTTP keeps the body byte-exact; the signature covers the raw payload.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.WriteJSONError(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		utils.WriteJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	err = h.svc.HandlePaymentWebhook(r.Context(), r.Header.Get(SignatureHeader), payload)
	if err != nil {
		status := apperror.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			logger.FromCtx(r.Context()).Error("webhook request failed",
				zap.Int("status", status),
				zap.Error(err),
			)
		}
		utils.WriteJSONError(w, apperror.PublicMessage(err), status)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
