package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *PaystackClient {
	return &PaystackClient{
		SecretKey:  "sk_test_secret",
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	}
}

func TestListTransactionsParsesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/transaction", r.URL.Path)
		assert.Equal(t, "CUS_abc", r.URL.Query().Get("customer"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("perPage"))
		assert.Equal(t, "success", r.URL.Query().Get("status"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  true,
			"message": "Transactions retrieved",
			"data": []map[string]interface{}{
				{"id": 1, "reference": "tx_1", "amount": 5000, "status": "success"},
				{"id": 2, "reference": "tx_2", "amount": 10000, "status": "success"},
			},
			"meta": map[string]interface{}{"total": 2, "page": 1, "pageCount": 1},
		})
	}))
	defer srv.Close()

	txns, meta, err := testClient(srv.URL).ListTransactions(context.Background(), "CUS_abc", 1, 50, TransactionSuccess)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "tx_1", txns[0].Reference)
	assert.Equal(t, int64(5000), txns[0].AmountMinor)
	require.NotNil(t, meta)
	assert.Equal(t, 1, meta.PageCount)
}

func TestDoRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			// Kill the connection mid-response so the client sees a
			// network error rather than an HTTP status.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data":   map[string]interface{}{"reference": "tx_ok", "amount": 5000, "status": "success"},
		})
	}))
	defer srv.Close()

	txn, err := testClient(srv.URL).VerifyTransaction(context.Background(), "tx_ok")
	require.NoError(t, err)
	assert.Equal(t, "tx_ok", txn.Reference)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoGivesUpAfterRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		hj := w.(http.Hijacker)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).VerifyTransaction(context.Background(), "tx_dead")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoNeverRetriesGatewayRejections(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).VerifyTransaction(context.Background(), "tx_any")
	require.Error(t, err)

	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoTreatsFalseEnvelopeStatusAsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  false,
			"message": "Transaction not found",
		})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).VerifyTransaction(context.Background(), "tx_missing")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Body, "not found")
}

func TestDoRequiresSecretKey(t *testing.T) {
	c := testClient("http://localhost:1")
	c.SecretKey = ""
	_, err := c.VerifyTransaction(context.Background(), "tx_any")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYSTACK_SECRET_KEY")
}

func TestInitializeTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "payer@example.com", body["email"])
		assert.Equal(t, float64(2500), body["amount"])
		assert.Equal(t, "unlock-ref-1", body["reference"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": map[string]interface{}{
				"authorization_url": "https://checkout.paystack.com/abc",
				"access_code":       "abc",
				"reference":         "unlock-ref-1",
			},
		})
	}))
	defer srv.Close()

	init, err := testClient(srv.URL).InitializeTransaction(context.Background(), "payer@example.com", 2500, "unlock-ref-1", "https://venuekey.example/cb")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", init.AuthorizationURL)
	assert.Equal(t, "unlock-ref-1", init.Reference)
}

func TestInitializeTransactionValidatesInput(t *testing.T) {
	c := testClient("http://localhost:1")
	_, err := c.InitializeTransaction(context.Background(), "", 2500, "ref", "")
	assert.Error(t, err)
	_, err = c.InitializeTransaction(context.Background(), "payer@example.com", 0, "ref", "")
	assert.Error(t, err)
}
