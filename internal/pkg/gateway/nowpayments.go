package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DennisKoslow/ProxyDesk/internal/pkg/env"
)

const (
	nowPaymentsProdBaseURL    = "https://api.nowpayments.io"
	nowPaymentsSandboxBaseURL = "https://api-sandbox.nowpayments.io"
)

// NowPaymentsAdapter implements the crypto rail: a fiat-denominated invoice
// with an optional pinned settlement coin. Confirmation arrives via IPN
// callbacks.
type NowPaymentsAdapter struct {
	APIKey    string
	Sandbox   bool
	EnvForced bool // environment explicitly pinned via NOWPAYMENTS_ENV
	IPNSecret string

	// Base URL overrides for the two environments. Empty uses the provider
	// defaults.
	APIBaseURL    string
	AltAPIBaseURL string

	HTTPClient *http.Client
}

func NewNowPaymentsAdapterFromEnv() *NowPaymentsAdapter {
	mode := strings.TrimSpace(env.GetEnv("NOWPAYMENTS_ENV", ""))
	return &NowPaymentsAdapter{
		APIKey:     strings.TrimSpace(env.GetEnv("NOWPAYMENTS_API_KEY", "")),
		Sandbox:    mode == "sandbox",
		EnvForced:  mode != "",
		IPNSecret:  strings.TrimSpace(env.GetEnv("NOWPAYMENTS_IPN_SECRET", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("NOWPAYMENTS_API_BASE_URL", ""), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (a *NowPaymentsAdapter) Info() Info {
	return Info{Slug: "nowpayments", DisplayName: "Cryptocurrency (NOWPayments)", Rail: "crypto"}
}

func (a *NowPaymentsAdapter) SupportedCurrencies() []string {
	return []string{"USD", "EUR"}
}

func (a *NowPaymentsAdapter) configured() bool {
	return a.APIKey != ""
}

func (a *NowPaymentsAdapter) baseURL() string {
	if a.APIBaseURL != "" {
		return a.APIBaseURL
	}
	if a.Sandbox {
		return nowPaymentsSandboxBaseURL
	}
	return nowPaymentsProdBaseURL
}

func (a *NowPaymentsAdapter) alternateBaseURL() string {
	if a.AltAPIBaseURL != "" {
		return a.AltAPIBaseURL
	}
	if a.Sandbox {
		return nowPaymentsProdBaseURL
	}
	return nowPaymentsSandboxBaseURL
}

// CreatePayment creates a fiat invoice. When the provider rejects the pinned
// coin as below its minimum, it retries exactly once with no coin pinned so
// the buyer can pick one on the hosted page.
func (a *NowPaymentsAdapter) CreatePayment(ctx context.Context, req Request) Result {
	if !a.configured() {
		return notConfigured()
	}

	res := a.createInvoice(ctx, req, req.PayCurrency)
	if !res.Success && req.PayCurrency != "" && isAmountTooSmall(res.Error) {
		res = a.createInvoice(ctx, req, "")
	}
	return res
}

func (a *NowPaymentsAdapter) createInvoice(ctx context.Context, req Request, payCurrency string) Result {
	payload := map[string]interface{}{
		"price_amount":      centsToDecimal(req.AmountCents),
		"price_currency":    strings.ToLower(req.Currency),
		"order_id":          req.InvoiceNumber,
		"order_description": req.Description,
		"success_url":       req.SuccessURL,
		"cancel_url":        req.CancelURL,
	}
	if payCurrency != "" {
		payload["pay_currency"] = strings.ToLower(payCurrency)
	}

	body, status, err := a.do(ctx, http.MethodPost, a.baseURL()+"/v1/invoice", payload)
	if err != nil {
		return fail("nowpayments invoice create failed: %v", err)
	}
	if status < 200 || status >= 300 {
		return fail("nowpayments invoice create failed: status=%d body=%s", status, truncateBody(body))
	}

	var out struct {
		ID          json.Number `json:"id"`
		InvoiceURL  string      `json:"invoice_url"`
		PayAddress  string      `json:"pay_address"`
		PayCurrency string      `json:"pay_currency"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fail("nowpayments invoice create: invalid response: %v", err)
	}
	if out.ID.String() == "" || out.InvoiceURL == "" {
		return fail("nowpayments invoice create: response missing id or invoice_url")
	}

	return ok(map[string]interface{}{
		"provider_ref": out.ID.String(),
		"payment_url":  out.InvoiceURL,
		"pay_address":  out.PayAddress,
		"pay_currency": out.PayCurrency,
	})
}

// VerifyPayment polls a payment by id. "finished" is the provider's terminal
// paid state.
func (a *NowPaymentsAdapter) VerifyPayment(ctx context.Context, providerRef string) Result {
	if !a.configured() {
		return notConfigured()
	}
	if strings.TrimSpace(providerRef) == "" {
		return fail("nowpayments verify: payment id is required")
	}

	body, status, err := a.do(ctx, http.MethodGet, a.baseURL()+"/v1/payment/"+url.PathEscape(providerRef), nil)
	if err != nil {
		return fail("nowpayments verify failed: %v", err)
	}
	if status < 200 || status >= 300 {
		return fail("nowpayments verify failed: status=%d body=%s", status, truncateBody(body))
	}

	var out struct {
		PaymentID     json.Number `json:"payment_id"`
		PaymentStatus string      `json:"payment_status"`
		PriceAmount   float64     `json:"price_amount"`
		PayAddress    string      `json:"pay_address"`
		PayCurrency   string      `json:"pay_currency"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fail("nowpayments verify: invalid response: %v", err)
	}

	return ok(map[string]interface{}{
		"provider_ref": out.PaymentID.String(),
		"status":       out.PaymentStatus,
		"paid":         out.PaymentStatus == "finished",
		"amount_cents": int64(out.PriceAmount*100 + 0.5),
		"pay_address":  out.PayAddress,
		"pay_currency": out.PayCurrency,
	})
}

// ProcessWebhook maps IPN callback statuses onto normalized actions.
func (a *NowPaymentsAdapter) ProcessWebhook(ctx context.Context, payload []byte) Result {
	_ = ctx
	var event struct {
		PaymentID     json.Number `json:"payment_id"`
		PaymentStatus string      `json:"payment_status"`
		OrderID       string      `json:"order_id"`
		PriceAmount   json.Number `json:"price_amount"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return fail("nowpayments webhook: invalid payload: %v", err)
	}
	if event.PaymentStatus == "" {
		return fail("nowpayments webhook: payload missing payment_status")
	}

	action := ActionIgnore
	switch event.PaymentStatus {
	case "finished":
		action = ActionMarkPaid
	case "failed", "expired", "refunded":
		action = ActionMarkFailed
	}

	return ok(map[string]interface{}{
		"event_id":   event.PaymentID.String(),
		"event_type": event.PaymentStatus,
		"action":     action,
		"payment_id": event.PaymentID.String(),
		"order_id":   event.OrderID,
	})
}

// RefundPayment is not offered by the provider's public API; crypto refunds
// are handled manually by support.
func (a *NowPaymentsAdapter) RefundPayment(ctx context.Context, providerRef string, amountCents int64) Result {
	_ = ctx
	if !a.configured() {
		return notConfigured()
	}
	return fail("nowpayments: refunds are not supported")
}

// EstimatePrice converts a fiat amount into an estimated coin amount. When
// the configured environment rejects the key with 401/403 and the environment
// was not explicitly forced, it retries once against the alternate
// environment.
func (a *NowPaymentsAdapter) EstimatePrice(ctx context.Context, amountCents int64, fiat, coin string) Result {
	if !a.configured() {
		return notConfigured()
	}

	query := url.Values{}
	query.Set("amount", centsToDecimal(amountCents))
	query.Set("currency_from", strings.ToLower(fiat))
	query.Set("currency_to", strings.ToLower(coin))

	return a.getWithEnvFallback(ctx, "/v1/estimate?"+query.Encode(), func(body []byte) Result {
		var out struct {
			EstimatedAmount json.Number `json:"estimated_amount"`
			CurrencyTo      string      `json:"currency_to"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return fail("nowpayments estimate: invalid response: %v", err)
		}
		return ok(map[string]interface{}{
			"estimated_amount": out.EstimatedAmount.String(),
			"pay_currency":     out.CurrencyTo,
		})
	})
}

// MinAmount looks up the provider's minimum payable amount for a coin pair.
// Same environment-fallback rule as EstimatePrice.
func (a *NowPaymentsAdapter) MinAmount(ctx context.Context, fiat, coin string) Result {
	if !a.configured() {
		return notConfigured()
	}

	query := url.Values{}
	query.Set("currency_from", strings.ToLower(coin))
	query.Set("currency_to", strings.ToLower(fiat))

	return a.getWithEnvFallback(ctx, "/v1/min-amount?"+query.Encode(), func(body []byte) Result {
		var out struct {
			MinAmount json.Number `json:"min_amount"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return fail("nowpayments min-amount: invalid response: %v", err)
		}
		return ok(map[string]interface{}{
			"min_amount": out.MinAmount.String(),
		})
	})
}

func (a *NowPaymentsAdapter) getWithEnvFallback(ctx context.Context, pathAndQuery string, parse func([]byte) Result) Result {
	body, status, err := a.do(ctx, http.MethodGet, a.baseURL()+pathAndQuery, nil)
	if err != nil {
		return fail("nowpayments request failed: %v", err)
	}

	// A key for the other environment answers 401/403. Retry once on the
	// alternate base URL unless the operator pinned the environment.
	if (status == http.StatusUnauthorized || status == http.StatusForbidden) && !a.EnvForced {
		body, status, err = a.do(ctx, http.MethodGet, a.alternateBaseURL()+pathAndQuery, nil)
		if err != nil {
			return fail("nowpayments request failed: %v", err)
		}
	}
	if status < 200 || status >= 300 {
		return fail("nowpayments request failed: status=%d body=%s", status, truncateBody(body))
	}
	return parse(body)
}

func (a *NowPaymentsAdapter) do(ctx context.Context, method, rawURL string, payload interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("x-api-key", a.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return body, resp.StatusCode, nil
}

// isAmountTooSmall detects the provider's "coin below minimum" rejection.
func isAmountTooSmall(errMsg string) bool {
	msg := strings.ToUpper(errMsg)
	return strings.Contains(msg, "AMOUNT_MINIMAL_ERROR") || strings.Contains(msg, "IS LESS THAN THE MINIMAL")
}
