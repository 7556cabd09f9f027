package functions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClient_PaystackSecureSendsActionAndKey(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/paystack-secure", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", time.Second, zap.NewNop())
	raw, err := c.PaystackSecure(context.Background(), "verify", "txn_1")

	require.NoError(t, err)
	assert.JSONEq(t, `{"status":true,"data":{"status":"success"}}`, string(raw))
	assert.Equal(t, map[string]string{"action": "verify", "reference": "txn_1"}, gotBody)
}

func TestClient_NonSuccessStatusIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, zap.NewNop())
	_, err := c.VerifyPayment(context.Background(), "txn_1")

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusBadGateway, remote.HTTPStatus())
	assert.Equal(t, VerifyPaymentFunction, remote.Function)
}

func TestClient_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, zap.NewNop())
	_, err := c.VerifyPayment(context.Background(), "txn_1")
	require.Error(t, err)
}
