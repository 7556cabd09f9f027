package verification

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"reconciler/internal/domain"
)

// outcome is the canonical reading of either verification function.
// recognised is false when the body did not have a success shape.
type outcome struct {
	recognised bool
	data       *domain.PaymentData
	message    string
}

// decodeVerifyPayment reads {success, data:{...}, message?}. It is total:
// anything missing falls back to a default and a bad body is unrecognised.
func decodeVerifyPayment(raw []byte) outcome {
	root, ok := decodeObject(raw)
	if !ok {
		return outcome{}
	}

	out := outcome{message: firstString(root, "message", "error")}
	if !flag(root, "success") {
		return out
	}
	body := object(root, "data")
	if body == nil {
		body = root
	}
	out.data = paymentData(body)
	out.recognised = out.data.Status != domain.PaymentStatusUnknown
	return out
}

// decodePaystackSecure reads {status|success: bool, data|<flat>: {...}}.
// The processor's own envelope may be nested once more inside data.
func decodePaystackSecure(raw []byte) outcome {
	root, ok := decodeObject(raw)
	if !ok {
		return outcome{}
	}

	out := outcome{message: firstString(root, "message", "error")}
	if !flag(root, "success") && !flag(root, "status") {
		return out
	}
	body := object(root, "data")
	if body == nil {
		body = root
	}
	if inner := object(body, "data"); inner != nil {
		if _, isEnvelope := body["status"].(bool); isEnvelope {
			if !flag(body, "status") {
				return out
			}
			body = inner
		}
	}
	out.data = paymentData(body)
	out.recognised = out.data.Status != domain.PaymentStatusUnknown
	return out
}

func paymentData(m map[string]any) *domain.PaymentData {
	metadata := object(m, "metadata")
	if metadata == nil {
		metadata = map[string]any{}
	}
	customer := object(m, "customer")
	if customer == nil {
		customer = map[string]any{}
	}
	if email := firstString(m, "customer_email", "email"); email != "" {
		if _, ok := customer["email"]; !ok {
			customer["email"] = email
		}
	}
	order := object(m, "order")

	d := &domain.PaymentData{
		Status:       domain.NormalizePaymentStatus(firstString(m, "status", "payment_status", "transaction_status")),
		Amount:       firstInt(m, "amount", "amount_paid", "total_amount"),
		Customer:     customer,
		Metadata:     metadata,
		PaidAt:       firstTime(m, "paid_at", "paidAt", "transaction_date"),
		Channel:      firstString(m, "channel"),
		OrderID:      firstString(m, "order_id", "orderId"),
		OrderNumber:  firstString(m, "order_number", "orderNumber"),
		OrderUpdated: flag(m, "order_updated"),
	}
	if d.OrderID == "" {
		d.OrderID = firstString(metadata, "order_id", "orderId")
	}
	if d.OrderID == "" && order != nil {
		d.OrderID = firstString(order, "id")
	}
	if d.OrderNumber == "" {
		d.OrderNumber = firstString(metadata, "order_number", "orderNumber")
	}
	if d.OrderNumber == "" && order != nil {
		d.OrderNumber = firstString(order, "order_number")
	}
	return d
}

func decodeObject(raw []byte) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// object returns m[key] as an object. Objects encoded as JSON strings are
// decoded too, since metadata sometimes arrives that way.
func object(m map[string]any, key string) map[string]any {
	switch v := m[key].(type) {
	case map[string]any:
		return v
	case string:
		if obj, ok := decodeObject([]byte(v)); ok {
			return obj
		}
	}
	return nil
}

func flag(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func firstInt(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int64(v)
		case string:
			if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return int64(n)
			}
		}
	}
	return 0
}

func firstTime(m map[string]any, keys ...string) *time.Time {
	for _, k := range keys {
		s, ok := m[k].(string)
		if !ok || s == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
	}
	return nil
}
