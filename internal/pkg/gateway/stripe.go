package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/DennisKoslow/ProxyDesk/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

// StripeAdapter implements the card rail via Stripe Checkout Sessions.
// Payment confirmation arrives out-of-band through webhooks; a created
// session only moves the order to processing.
type StripeAdapter struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewStripeAdapterFromEnv() *StripeAdapter {
	return &StripeAdapter{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (a *StripeAdapter) Info() Info {
	return Info{Slug: "stripe", DisplayName: "Credit Card (Stripe)", Rail: "card"}
}

func (a *StripeAdapter) SupportedCurrencies() []string {
	return []string{"USD", "EUR", "GBP"}
}

func (a *StripeAdapter) configured() bool {
	return a.SecretKey != ""
}

// CreatePayment creates a hosted checkout session for the order amount and
// returns the redirect URL plus the session id as provider_ref.
func (a *StripeAdapter) CreatePayment(ctx context.Context, req Request) Result {
	if !a.configured() {
		return notConfigured()
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("client_reference_id", strconv.FormatUint(uint64(req.OrderID), 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}

	body, status, err := a.do(ctx, http.MethodPost, "/v1/checkout/sessions", form)
	if err != nil {
		return fail("stripe session create failed: %v", err)
	}
	if status < 200 || status >= 300 {
		return fail("stripe session create failed: status=%d body=%s", status, truncateBody(body))
	}

	var session struct {
		ID            string `json:"id"`
		URL           string `json:"url"`
		PaymentStatus string `json:"payment_status"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return fail("stripe session create: invalid response: %v", err)
	}
	if session.ID == "" || session.URL == "" {
		return fail("stripe session create: response missing id or url")
	}

	return ok(map[string]interface{}{
		"provider_ref": session.ID,
		"payment_url":  session.URL,
		"status":       session.PaymentStatus,
	})
}

// VerifyPayment polls the checkout session by id.
func (a *StripeAdapter) VerifyPayment(ctx context.Context, providerRef string) Result {
	if !a.configured() {
		return notConfigured()
	}
	if strings.TrimSpace(providerRef) == "" {
		return fail("stripe verify: session id is required")
	}

	body, status, err := a.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(providerRef), nil)
	if err != nil {
		return fail("stripe verify failed: %v", err)
	}
	if status < 200 || status >= 300 {
		return fail("stripe verify failed: status=%d body=%s", status, truncateBody(body))
	}

	var session struct {
		ID            string `json:"id"`
		PaymentStatus string `json:"payment_status"`
		AmountTotal   int64  `json:"amount_total"`
		PaymentIntent string `json:"payment_intent"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return fail("stripe verify: invalid response: %v", err)
	}

	paid := session.PaymentStatus == "paid"
	return ok(map[string]interface{}{
		"provider_ref": session.ID,
		"paid":         paid,
		"status":       session.PaymentStatus,
		"amount_cents": session.AmountTotal,
		"payment_id":   session.PaymentIntent,
	})
}

// ProcessWebhook maps Stripe event types onto normalized actions. Signature
// verification happens in the transport layer before this is called.
func (a *StripeAdapter) ProcessWebhook(ctx context.Context, payload []byte) Result {
	_ = ctx
	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"`
				Metadata struct {
					OrderID string `json:"order_id"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return fail("stripe webhook: invalid payload: %v", err)
	}
	if event.Type == "" {
		return fail("stripe webhook: payload missing event type")
	}

	action := ActionIgnore
	switch event.Type {
	case "payment_intent.succeeded", "checkout.session.completed":
		action = ActionMarkPaid
	case "payment_intent.payment_failed":
		action = ActionMarkFailed
	case "charge.dispute.created":
		action = ActionOpenDispute
	}

	return ok(map[string]interface{}{
		"event_id":     event.ID,
		"event_type":   event.Type,
		"action":       action,
		"payment_id":   event.Data.Object.ID,
		"amount_cents": event.Data.Object.Amount,
		"order_id":     event.Data.Object.Metadata.OrderID,
	})
}

// RefundPayment refunds a captured payment intent, optionally partially.
func (a *StripeAdapter) RefundPayment(ctx context.Context, providerRef string, amountCents int64) Result {
	if !a.configured() {
		return notConfigured()
	}
	if strings.TrimSpace(providerRef) == "" {
		return fail("stripe refund: payment intent id is required")
	}

	form := url.Values{}
	form.Set("payment_intent", providerRef)
	if amountCents > 0 {
		form.Set("amount", strconv.FormatInt(amountCents, 10))
	}

	body, status, err := a.do(ctx, http.MethodPost, "/v1/refunds", form)
	if err != nil {
		return fail("stripe refund failed: %v", err)
	}
	if status < 200 || status >= 300 {
		return fail("stripe refund failed: status=%d body=%s", status, truncateBody(body))
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &refund); err != nil {
		return fail("stripe refund: invalid response: %v", err)
	}
	return ok(map[string]interface{}{
		"refund_id": refund.ID,
		"status":    refund.Status,
	})
}

func (a *StripeAdapter) do(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, a.APIBaseURL+path, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+a.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return body, resp.StatusCode, nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
