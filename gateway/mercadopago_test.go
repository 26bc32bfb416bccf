package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torxytonnickertrux/ticketchecker/gateway"
)

func TestMercadoPago_GetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payments/123456", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": 123456,
			"status": "approved",
			"external_reference": "7f1c0e4e-3a0e-4b53-9d4c-8f3f3f7d2a11",
			"transaction_amount": 150.5,
			"currency_id": "BRL",
			"payment_method_id": "pix",
			"date_approved": "2024-05-01T10:00:00.000-04:00"
		}`))
	}))
	defer srv.Close()

	gw := gateway.NewMercadoPagoGateway(srv.URL, "TEST-token", 2*time.Second)
	payment, err := gw.GetPayment(context.Background(), "123456")
	require.NoError(t, err)

	assert.Equal(t, "123456", payment.ID)
	assert.Equal(t, gateway.StatusApproved, payment.Status)
	assert.Equal(t, "7f1c0e4e-3a0e-4b53-9d4c-8f3f3f7d2a11", payment.ExternalReference)
	assert.Equal(t, int64(15050), payment.Amount)
	assert.Equal(t, "BRL", payment.Currency)
	assert.Equal(t, "pix", payment.PaymentMethod)
	require.NotNil(t, payment.SettledAt)
	assert.Equal(t, 14, payment.SettledAt.UTC().Hour())
}

func TestMercadoPago_GetPaymentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Payment not found"}`))
	}))
	defer srv.Close()

	gw := gateway.NewMercadoPagoGateway(srv.URL, "TEST-token", 2*time.Second)
	_, err := gw.GetPayment(context.Background(), "999")
	assert.ErrorIs(t, err, gateway.ErrPaymentNotFound)
}

func TestMercadoPago_GetPaymentServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	}))
	defer srv.Close()

	gw := gateway.NewMercadoPagoGateway(srv.URL, "TEST-token", 2*time.Second)
	_, err := gw.GetPayment(context.Background(), "1")

	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Body)
}

func TestMercadoPago_GetPaymentHonoursContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	gw := gateway.NewMercadoPagoGateway(srv.URL, "TEST-token", 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := gw.GetPayment(ctx, "1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMercadoPago_CreatePayment(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "purchase-1", r.Header.Get("X-Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42, "status": "pending", "external_reference": "purchase-1", "transaction_amount": 100, "currency_id": "BRL"}`))
	}))
	defer srv.Close()

	gw := gateway.NewMercadoPagoGateway(srv.URL, "TEST-token", 2*time.Second)
	payment, err := gw.CreatePayment(context.Background(), gateway.CreatePaymentRequest{
		ExternalReference: "purchase-1",
		Amount:            10000,
		Currency:          "BRL",
		Description:       "Ticket for Test event",
		PaymentMethod:     "pix",
		PayerEmail:        "buyer@example.com",
		PayerName:         "Maria da Silva",
		PayerDocument:     "12345678909",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", payment.ID)
	assert.Equal(t, gateway.StatusPending, payment.Status)

	assert.Equal(t, 100.0, received["transaction_amount"])
	assert.Equal(t, "purchase-1", received["external_reference"])
	payer := received["payer"].(map[string]interface{})
	assert.Equal(t, "Maria", payer["first_name"])
	assert.Equal(t, "da Silva", payer["last_name"])
	assert.Equal(t, "12345678909", payer["identification"].(map[string]interface{})["number"])
}

func TestRegistry_Get(t *testing.T) {
	gw := gateway.NewMercadoPagoGateway("", "token", time.Second)
	registry := gateway.Registry{"test": gw}

	got, err := registry.Get("test")
	require.NoError(t, err)
	assert.Same(t, gw, got)

	_, err = registry.Get("production")
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)
}
