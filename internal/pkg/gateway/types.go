package gateway

import (
	"errors"
	"fmt"
)

var errEmptyToken = errors.New("token exchange returned empty access_token")

func errHTTP(op string, status int, body []byte) error {
	return fmt.Errorf("%s failed: status=%d body=%s", op, status, truncateBody(body))
}

// Webhook actions a gateway can map a provider event onto.
const (
	ActionMarkPaid    = "mark_paid"
	ActionMarkFailed  = "mark_failed"
	ActionOpenDispute = "open_dispute"
	ActionIgnore      = "ignore"
)

// Result is the normalized envelope every adapter method returns. Callers
// never inspect provider-specific shapes directly.
type Result struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	Data    map[string]interface{} `json:"data"`
}

// Request is the provider-neutral input for creating a payment.
type Request struct {
	OrderID       uint
	UserID        uint
	InvoiceNumber string
	AmountCents   int64
	Currency      string
	Description   string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	PayCurrency   string // crypto rail only: optional settlement coin to pin
}

// Info describes an adapter for catalog and diagnostics purposes.
type Info struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"display_name"`
	Rail        string `json:"rail"` // card, redirect, crypto, ledger
}

func ok(data map[string]interface{}) Result {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Result{Success: true, Data: data}
}

func fail(format string, args ...interface{}) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...), Data: map[string]interface{}{}}
}

// notConfigured is the uniform non-fatal answer for a gateway whose
// credentials are absent from the environment.
func notConfigured() Result {
	return Result{Success: false, Error: "not configured", Data: map[string]interface{}{}}
}

// IsNotConfigured reports whether a result means the gateway is disabled.
func (r Result) IsNotConfigured() bool {
	return !r.Success && r.Error == "not configured"
}

// String returns the Data entry for key if present.
func (r Result) String(key string) string {
	if v, ok := r.Data[key].(string); ok {
		return v
	}
	return ""
}

// centsToDecimal renders a cent amount the way decimal-denominated provider
// APIs expect it, e.g. 3050 -> "30.50".
func centsToDecimal(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
