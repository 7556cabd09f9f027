package domain

import (
	"slices"
	"strings"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"

	PaymentStatusAbandoned PaymentStatus = "abandoned"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusUnknown   PaymentStatus = "unknown"
)

// KnownPaymentStatuses is the set a successful VerificationResult may carry.
var KnownPaymentStatuses = map[PaymentStatus]struct{}{
	PaymentStatusSuccess: {},
	PaymentStatusPaid:    {},
	PaymentStatusFailed:  {},
}

var (
	successSpellings = []string{"success", "successful", "succeeded", "completed", "complete"}
	paidSpellings    = []string{"paid", "confirmed"}
)

// SettledStatusSpellings lists the lower-case raw statuses that normalize to a
// settled PaymentStatus.
func SettledStatusSpellings() []string {
	return append(slices.Clone(successSpellings), paidSpellings...)
}

// NormalizePaymentStatus maps the processor and database spellings onto PaymentStatus.
func NormalizePaymentStatus(raw string) PaymentStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case slices.Contains(successSpellings, s):
		return PaymentStatusSuccess
	case slices.Contains(paidSpellings, s):
		return PaymentStatusPaid
	}
	switch s {
	case "failed", "failure", "declined", "reversed":
		return PaymentStatusFailed
	case "abandoned", "cancelled", "canceled":
		return PaymentStatusAbandoned
	case "pending", "ongoing", "processing", "queued":
		return PaymentStatusPending
	default:
		return PaymentStatusUnknown
	}
}

// IsSettled reports whether the status means the customer's money was taken.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusPaid
}

// IsDefinitiveFailure reports a processor answer that recovery must not override.
func (s PaymentStatus) IsDefinitiveFailure() bool {
	return s == PaymentStatusFailed || s == PaymentStatusAbandoned
}

// Channel values describe where a result came from.
const (
	ChannelStored    = "stored"
	ChannelRecovered = "recovered"
)

// PaymentData is the canonical payload of a verification.
// Amount is in the currency's minor unit (kobo for NGN).
type PaymentData struct {
	Status       PaymentStatus  `json:"status"`
	Amount       int64          `json:"amount"`
	Customer     map[string]any `json:"customer"`
	Metadata     map[string]any `json:"metadata"`
	PaidAt       *time.Time     `json:"paid_at,omitempty"`
	Channel      string         `json:"channel"`
	OrderID      string         `json:"order_id,omitempty"`
	OrderNumber  string         `json:"order_number,omitempty"`
	OrderUpdated bool           `json:"order_updated,omitempty"`
}

type VerificationResult struct {
	Success   bool              `json:"success"`
	Data      *PaymentData      `json:"data,omitempty"`
	Message   string            `json:"message,omitempty"`
	ErrorCode ErrorCode         `json:"error_code,omitempty"`
	Reference string            `json:"reference,omitempty"`
	Attempts  []RecoveryAttempt `json:"recovery_attempts,omitempty"`
}

// VerifiedResult builds a successful result. It degrades to a failure when the
// data would break the success invariant (missing data or an unknown status).
//
// A processor answer of failed or abandoned never goes through
// VerifiedResult. Callers report it as FailedResult with ErrorCodePaymentFailed
// and keep the processor's PaymentData on Data, so Success=false does not
// always mean Data is nil.
func VerifiedResult(reference string, data *PaymentData) VerificationResult {
	if data == nil {
		return FailedResult(reference, ErrorCodeValidation, "verification returned no payment data")
	}
	if _, ok := KnownPaymentStatuses[data.Status]; !ok {
		return FailedResult(reference, ErrorCodeValidation, "verification returned unrecognised payment status "+string(data.Status))
	}
	if data.Customer == nil {
		data.Customer = map[string]any{}
	}
	if data.Metadata == nil {
		data.Metadata = map[string]any{}
	}
	return VerificationResult{Success: true, Data: data, Reference: reference, Message: "Payment verified"}
}

// FailedResult builds a failure with no Data. Callers attach Data afterwards
// when the processor gave a definitive not-completed answer.
func FailedResult(reference string, code ErrorCode, message string) VerificationResult {
	return VerificationResult{Success: false, ErrorCode: code, Reference: reference, Message: message}
}

// PendingSettlementMessage is shown when nothing could confirm the payment.
// It must not claim the payment failed since the processor may still settle.
const PendingSettlementMessage = "We could not confirm your payment yet. If you were charged, your order is safe and will be updated shortly; otherwise you can retry or contact support with your payment reference."

const PaymentNotCompletedMessage = "The payment was not completed. You can retry checkout."
