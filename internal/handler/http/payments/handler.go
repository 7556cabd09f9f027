package payments_http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"reconciler/internal/app/reconcile"
	"reconciler/internal/domain"
)

const maxBodyBytes = 1 << 16

type PaymentHandler struct {
	service reconcile.Service
	logger  *zap.Logger
}

func NewPaymentHandler(s reconcile.Service, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, logger: l}
}

type CheckoutResponse struct {
	Reference string `json:"reference"`
	OrderID   string `json:"order_id,omitempty"`
	Amount    int64  `json:"amount"`
	CreatedAt string `json:"created_at"`
}

type CallbackRequest struct {
	Reference string `json:"reference"`
}

type StatusUpdateRequest struct {
	Status  domain.OrderStatus `json:"status"`
	ActorID string             `json:"actor_id"`
}

type errorResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (h *PaymentHandler) BeginCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req reconcile.CheckoutRequest
	if !h.decode(w, r, checkoutLoader, &req) {
		return
	}

	rec, err := h.service.BeginCheckout(r.Context(), SessionID(r.Context()), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionRequired), errors.Is(err, domain.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, string(domain.ErrorCodeValidation), err.Error())
		case errors.Is(err, domain.ErrSnapshotExists):
			writeError(w, http.StatusConflict, string(domain.ErrorCodeDuplicateKey), err.Error())
		default:
			h.logger.Error("Failed to begin checkout", zap.Error(err))
			writeError(w, http.StatusInternalServerError, string(domain.ErrorCodeServer), "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, CheckoutResponse{
		Reference: rec.Reference,
		OrderID:   rec.OrderID,
		Amount:    rec.Amount,
		CreatedAt: rec.CreatedAt.Format(http.TimeFormat),
	})
}

func (h *PaymentHandler) AbandonCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.AbandonCheckout(r.Context(), SessionID(r.Context())); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.ErrorCodeValidation), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PaymentHandler) ConfirmCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if !h.decode(w, r, callbackLoader, &req) {
		return
	}

	err := h.service.ConfirmCallback(r.Context(), SessionID(r.Context()), req.Reference)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrNoCheckout):
		writeError(w, http.StatusNotFound, string(domain.ErrorCodeNotFound), err.Error())
	case errors.Is(err, domain.ErrInvalidReference), errors.Is(err, domain.ErrSessionRequired):
		writeError(w, http.StatusBadRequest, string(domain.ErrorCodeValidation), err.Error())
	default:
		h.logger.Error("Failed to record processor callback", zap.Error(err))
		writeError(w, http.StatusInternalServerError, string(domain.ErrorCodeServer), "Internal server error")
	}
}

func (h *PaymentHandler) LastPaymentHandler(w http.ResponseWriter, r *http.Request) {
	res, ok := h.service.LastPayment(r.Context(), SessionID(r.Context()))
	if !ok {
		writeError(w, http.StatusNotFound, string(domain.ErrorCodeNotFound), "No confirmed payment for this session")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// VerifyPaymentHandler always answers 200 with the verification result unless
// the request itself is invalid; a failed verification is a normal outcome.
func (h *PaymentHandler) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	res := h.service.VerifyPayment(r.Context(), SessionID(r.Context()), chi.URLParam(r, "reference"))
	writeResult(w, res)
}

func (h *PaymentHandler) AttemptRecoveryHandler(w http.ResponseWriter, r *http.Request) {
	res := h.service.AttemptRecovery(r.Context(), SessionID(r.Context()), chi.URLParam(r, "reference"))
	writeResult(w, res)
}

func (h *PaymentHandler) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req StatusUpdateRequest
	if !h.decode(w, r, statusUpdateLoader, &req) {
		return
	}
	orderID := chi.URLParam(r, "id")

	res := h.service.BulletproofOrderStatusUpdate(r.Context(), orderID, req.Status, req.ActorID)
	if res.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
	}
	writeJSON(w, bulletproofStatus(res), res)
}

func (h *PaymentHandler) decode(w http.ResponseWriter, r *http.Request, schema gojsonschema.JSONLoader, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("Failed to read request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, string(domain.ErrorCodeValidation), "Invalid request body")
		return false
	}
	if err := validateJSONSchema(schema, body); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.ErrorCodeValidation), err.Error())
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.ErrorCodeValidation), "Invalid request body")
		return false
	}
	return true
}

func writeResult(w http.ResponseWriter, res domain.VerificationResult) {
	status := http.StatusOK
	if !res.Success && res.ErrorCode == domain.ErrorCodeValidation {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

func bulletproofStatus(res domain.BulletproofResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrorCode {
	case domain.ErrorCodeValidation:
		return http.StatusBadRequest
	case domain.ErrorCodeAuth:
		return http.StatusForbidden
	case domain.ErrorCodeNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeLockConflict, domain.ErrorCodeDuplicateKey:
		return http.StatusConflict
	case domain.ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	case domain.ErrorCodeNetwork, domain.ErrorCodeTimeout, domain.ErrorCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Success: false, ErrorCode: code, Message: message})
}
