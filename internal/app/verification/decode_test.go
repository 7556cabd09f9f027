package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciler/internal/domain"
)

func TestDecodeVerifyPayment_NestedData(t *testing.T) {
	out := decodeVerifyPayment([]byte(`{
		"success": true,
		"data": {
			"status": "success",
			"amount": 250000,
			"customer": {"email": "a@b.co"},
			"metadata": {"order_id": "order-1"},
			"paid_at": "2024-01-01T10:00:00Z",
			"channel": "card",
			"order_number": "ORD-1",
			"order_updated": true
		}
	}`))

	require.True(t, out.recognised)
	d := out.data
	assert.Equal(t, domain.PaymentStatusSuccess, d.Status)
	assert.Equal(t, int64(250000), d.Amount)
	assert.Equal(t, "a@b.co", d.Customer["email"])
	assert.Equal(t, "order-1", d.OrderID)
	assert.Equal(t, "ORD-1", d.OrderNumber)
	assert.True(t, d.OrderUpdated)
	assert.Equal(t, "card", d.Channel)
	require.NotNil(t, d.PaidAt)
	assert.True(t, d.PaidAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDecodeVerifyPayment_Unrecognised(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"explicit failure", `{"success": false, "message": "not found"}`},
		{"success without status", `{"success": true, "data": {"amount": 100}}`},
		{"not json", `<html></html>`},
		{"array", `[1,2]`},
		{"null", `null`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, decodeVerifyPayment([]byte(tc.body)).recognised)
		})
	}
}

func TestDecodeVerifyPayment_DefaultsMissingFields(t *testing.T) {
	out := decodeVerifyPayment([]byte(`{"success": true, "data": {"status": "paid", "amount": null}}`))

	require.True(t, out.recognised)
	assert.Equal(t, int64(0), out.data.Amount)
	assert.NotNil(t, out.data.Customer)
	assert.NotNil(t, out.data.Metadata)
	assert.Nil(t, out.data.PaidAt)
}

func TestDecodePaystackSecure(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		recognised bool
		status     domain.PaymentStatus
		amount     int64
		orderID    string
	}{
		{
			name:       "processor envelope inside data",
			body:       `{"success":true,"data":{"status":true,"message":"Verification successful","data":{"status":"success","amount":"5000","metadata":"{\"order_id\":\"order-2\"}"}}}`,
			recognised: true,
			status:     domain.PaymentStatusSuccess,
			amount:     5000,
			orderID:    "order-2",
		},
		{
			name:       "status flag with flat data",
			body:       `{"status":true,"data":{"status":"abandoned","amount":700,"order":{"id":"order-3"}}}`,
			recognised: true,
			status:     domain.PaymentStatusAbandoned,
			amount:     700,
			orderID:    "order-3",
		},
		{
			name:       "flat body",
			body:       `{"success":true,"status":"success","amount":42,"order_id":"order-4"}`,
			recognised: true,
			status:     domain.PaymentStatusSuccess,
			amount:     42,
			orderID:    "order-4",
		},
		{
			name: "processor envelope reporting failure",
			body: `{"success":true,"data":{"status":false,"message":"Transaction reference not found","data":{}}}`,
		},
		{
			name: "top level failure",
			body: `{"status":false,"message":"Invalid key"}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := decodePaystackSecure([]byte(tc.body))
			require.Equal(t, tc.recognised, out.recognised)
			if !tc.recognised {
				return
			}
			assert.Equal(t, tc.status, out.data.Status)
			assert.Equal(t, tc.amount, out.data.Amount)
			assert.Equal(t, tc.orderID, out.data.OrderID)
		})
	}
}
