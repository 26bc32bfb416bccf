package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultMercadoPagoURL = "https://api.mercadopago.com"

// MercadoPagoGateway is a client for the MercadoPago payments REST API.
type MercadoPagoGateway struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

func NewMercadoPagoGateway(baseURL, accessToken string, timeout time.Duration) *MercadoPagoGateway {
	if baseURL == "" {
		baseURL = DefaultMercadoPagoURL
	}
	return &MercadoPagoGateway{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
	}
}

type mpPayer struct {
	Email          string            `json:"email,omitempty"`
	FirstName      string            `json:"first_name,omitempty"`
	LastName       string            `json:"last_name,omitempty"`
	Identification *mpIdentification `json:"identification,omitempty"`
}

type mpIdentification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type mpCreatePayment struct {
	TransactionAmount float64           `json:"transaction_amount"`
	Description       string            `json:"description,omitempty"`
	PaymentMethodID   string            `json:"payment_method_id,omitempty"`
	ExternalReference string            `json:"external_reference"`
	Token             string            `json:"token,omitempty"`
	Installments      int               `json:"installments,omitempty"`
	Payer             mpPayer           `json:"payer"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type mpPayment struct {
	ID                json.RawMessage `json:"id"`
	Status            string          `json:"status"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount float64         `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
	PaymentMethodID   string          `json:"payment_method_id"`
	DateApproved      *string         `json:"date_approved"`
}

func (g *MercadoPagoGateway) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	firstName, lastName := splitName(req.PayerName)
	body := mpCreatePayment{
		TransactionAmount: float64(req.Amount) / 100,
		Description:       req.Description,
		PaymentMethodID:   req.PaymentMethod,
		ExternalReference: req.ExternalReference,
		Token:             req.CardToken,
		Installments:      req.Installments,
		Payer: mpPayer{
			Email:     req.PayerEmail,
			FirstName: firstName,
			LastName:  lastName,
		},
		Metadata: req.Metadata,
	}
	if req.PayerDocument != "" {
		body.Payer.Identification = &mpIdentification{Type: "CPF", Number: req.PayerDocument}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("X-Idempotency-Key", req.ExternalReference)

	var out mpPayment
	if err := g.do(ctx, http.MethodPost, "/v1/payments", headers, payload, &out); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (g *MercadoPagoGateway) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var out mpPayment
	if err := g.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (g *MercadoPagoGateway) do(ctx context.Context, method, path string, headers http.Header, body []byte, out interface{}) error {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	for k, v := range headers {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("mercadopago %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrPaymentNotFound
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p mpPayment) toPayment() *Payment {
	payment := &Payment{
		ID:                strings.Trim(string(p.ID), `"`),
		Status:            p.Status,
		ExternalReference: p.ExternalReference,
		Amount:            int64(math.Round(p.TransactionAmount * 100)),
		Currency:          p.CurrencyID,
		PaymentMethod:     p.PaymentMethodID,
	}
	if p.DateApproved != nil {
		if t, err := time.Parse(time.RFC3339, *p.DateApproved); err == nil {
			payment.SettledAt = &t
		}
	}
	return payment
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
