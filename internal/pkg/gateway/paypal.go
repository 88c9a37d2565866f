package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DennisKoslow/ProxyDesk/internal/pkg/env"
)

const (
	defaultPayPalAPIBaseURL        = "https://api-m.paypal.com"
	defaultPayPalSandboxAPIBaseURL = "https://api-m.sandbox.paypal.com"
)

// PayPalAdapter implements the redirect rail. Creating a payment yields an
// approval URL; capture is a second explicit step after the buyer returns.
type PayPalAdapter struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string

	HTTPClient *http.Client

	// adapter-local token cache
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalAdapterFromEnv() *PayPalAdapter {
	base := defaultPayPalAPIBaseURL
	if env.GetEnv("PAYPAL_MODE", "live") == "sandbox" {
		base = defaultPayPalSandboxAPIBaseURL
	}
	return &PayPalAdapter{
		ClientID:     strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
		APIBaseURL:   strings.TrimRight(env.GetEnv("PAYPAL_API_BASE_URL", base), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (a *PayPalAdapter) Info() Info {
	return Info{Slug: "paypal", DisplayName: "PayPal", Rail: "redirect"}
}

func (a *PayPalAdapter) SupportedCurrencies() []string {
	return []string{"USD", "EUR", "GBP", "AUD", "CAD"}
}

func (a *PayPalAdapter) configured() bool {
	return a.ClientID != "" && a.ClientSecret != ""
}

// token returns a cached access token, refreshing it via the
// client-credential exchange when missing or expired.
func (a *PayPalAdapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.APIBaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.ClientID, a.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errHTTP("paypal token exchange", resp.StatusCode, body)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errEmptyToken
	}

	a.accessToken = out.AccessToken
	// refresh one minute early to avoid using a token at the edge of expiry
	a.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return a.accessToken, nil
}

// CreatePayment creates a PayPal order resource and returns the approval URL.
func (a *PayPalAdapter) CreatePayment(ctx context.Context, req Request) Result {
	if !a.configured() {
		return notConfigured()
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": req.InvoiceNumber,
			"description":  req.Description,
			"amount": map[string]string{
				"currency_code": strings.ToUpper(req.Currency),
				"value":         centsToDecimal(req.AmountCents),
			},
		}},
		"application_context": map[string]string{
			"return_url": req.SuccessURL,
			"cancel_url": req.CancelURL,
		},
	}

	body, status, err := a.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", payload)
	if err != nil {
		return fail("paypal order create failed: %v", err)
	}
	if status < 200 || status >= 300 {
		return fail("paypal order create failed: status=%d body=%s", status, truncateBody(body))
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fail("paypal order create: invalid response: %v", err)
	}

	approvalURL := ""
	for _, link := range out.Links {
		if link.Rel == "approve" {
			approvalURL = link.Href
			break
		}
	}
	if out.ID == "" || approvalURL == "" {
		return fail("paypal order create: response missing id or approval link")
	}

	return ok(map[string]interface{}{
		"provider_ref": out.ID,
		"payment_url":  approvalURL,
		"status":       out.Status,
	})
}

// CaptureOrder performs the explicit capture step after buyer approval.
func (a *PayPalAdapter) CaptureOrder(ctx context.Context, providerRef string) Result {
	if !a.configured() {
		return notConfigured()
	}
	if strings.TrimSpace(providerRef) == "" {
		return fail("paypal capture: order id is required")
	}

	body, status, err := a.doJSON(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(providerRef)+"/capture", map[string]interface{}{})
	if err != nil {
		return fail("paypal capture failed: %v", err)
	}
	if status < 200 || status >= 300 {
		return fail("paypal capture failed: status=%d body=%s", status, truncateBody(body))
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fail("paypal capture: invalid response: %v", err)
	}

	return ok(map[string]interface{}{
		"provider_ref": out.ID,
		"status":       out.Status,
		"paid":         out.Status == "COMPLETED",
	})
}

// VerifyPayment reads the order resource; a buyer-approved order is captured
// here so verification and capture stay one call for the orchestrator.
func (a *PayPalAdapter) VerifyPayment(ctx context.Context, providerRef string) Result {
	if !a.configured() {
		return notConfigured()
	}
	if strings.TrimSpace(providerRef) == "" {
		return fail("paypal verify: order id is required")
	}

	body, status, err := a.doJSON(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(providerRef), nil)
	if err != nil {
		return fail("paypal verify failed: %v", err)
	}
	if status < 200 || status >= 300 {
		return fail("paypal verify failed: status=%d body=%s", status, truncateBody(body))
	}

	var out struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Amount struct {
				Value string `json:"value"`
			} `json:"amount"`
		} `json:"purchase_units"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fail("paypal verify: invalid response: %v", err)
	}

	if out.Status == "APPROVED" {
		return a.CaptureOrder(ctx, providerRef)
	}

	var amountCents int64
	if len(out.PurchaseUnits) > 0 {
		if v, err := strconv.ParseFloat(out.PurchaseUnits[0].Amount.Value, 64); err == nil {
			amountCents = int64(v*100 + 0.5)
		}
	}

	return ok(map[string]interface{}{
		"provider_ref": out.ID,
		"status":       out.Status,
		"paid":         out.Status == "COMPLETED",
		"amount_cents": amountCents,
	})
}

// ProcessWebhook maps PayPal event types onto normalized actions.
func (a *PayPalAdapter) ProcessWebhook(ctx context.Context, payload []byte) Result {
	_ = ctx
	var event struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return fail("paypal webhook: invalid payload: %v", err)
	}
	if event.EventType == "" {
		return fail("paypal webhook: payload missing event type")
	}

	action := ActionIgnore
	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		action = ActionMarkPaid
	case "PAYMENT.CAPTURE.DENIED":
		action = ActionMarkFailed
	case "CUSTOMER.DISPUTE.CREATED":
		action = ActionOpenDispute
	}

	return ok(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.EventType,
		"action":     action,
		"payment_id": event.Resource.ID,
	})
}

// RefundPayment refunds a captured payment.
func (a *PayPalAdapter) RefundPayment(ctx context.Context, providerRef string, amountCents int64) Result {
	if !a.configured() {
		return notConfigured()
	}
	if strings.TrimSpace(providerRef) == "" {
		return fail("paypal refund: capture id is required")
	}

	var payload map[string]interface{}
	if amountCents > 0 {
		payload = map[string]interface{}{
			"amount": map[string]string{
				"value":         centsToDecimal(amountCents),
				"currency_code": "USD",
			},
		}
	} else {
		payload = map[string]interface{}{}
	}

	body, status, err := a.doJSON(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(providerRef)+"/refund", payload)
	if err != nil {
		return fail("paypal refund failed: %v", err)
	}
	if status < 200 || status >= 300 {
		return fail("paypal refund failed: status=%d body=%s", status, truncateBody(body))
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fail("paypal refund: invalid response: %v", err)
	}
	return ok(map[string]interface{}{
		"refund_id": out.ID,
		"status":    out.Status,
	})
}

func (a *PayPalAdapter) doJSON(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, 0, err
	}

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.APIBaseURL+path, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
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
