package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/go-playground/validator/v10"
)

// Sentinel errors surfaced to the transport layer.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMethodUnavailable   = errors.New("payment method unavailable")
	ErrOrderNotFound       = errors.New("order not found")
	ErrGatewayFailed       = errors.New("payment gateway failed")
)

// CartLine is one plan/quantity pair in the buyer's cart.
type CartLine struct {
	PlanID   uint `json:"plan_id" validate:"required"`
	Quantity int  `json:"quantity" validate:"required,min=1"`
}

// CheckoutRequest is the checkout-facing contract consumed from the UI
// layer: buyer contact fields plus the chosen payment-method slug.
type CheckoutRequest struct {
	Name          string     `json:"name" validate:"required,min=2,max=150"`
	Email         string     `json:"email" validate:"required,email"`
	PaymentMethod string     `json:"payment_method" validate:"required"`
	PayCurrency   string     `json:"pay_currency" validate:"max=20"` // crypto rail only
	Notes         string     `json:"notes" validate:"max=1000"`
	Lines         []CartLine `json:"lines" validate:"required,min=1,dive"`
}

// Outcome is the success answer of a checkout: either a gateway-hosted
// redirect URL or a local invoice download URL (ledger rail).
type Outcome struct {
	Order       *models.Order `json:"order"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	InvoiceURL  string        `json:"invoice_url,omitempty"`
}

// ValidationError carries field-level messages; nothing was persisted when
// it is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var validate = validator.New()

// validateRequest runs struct validation and converts validator errors into
// a field-level map.
func validateRequest(req CheckoutRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fmt.Sprintf("failed on %s", fe.Tag())
	}
	return &ValidationError{Fields: fields}
}
