package invoicedoc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DennisKoslow/ProxyDesk/app/models"
)

func TestRender(t *testing.T) {
	t.Parallel()

	order := &models.Order{
		ID:            42,
		PaymentStatus: models.PaymentStatusPaid,
		CreatedAt:     time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	invoice := &models.Invoice{ID: 9, Number: "INV-ABCD1234", AmountCents: 3998, Currency: "USD"}
	items := []models.OrderItem{
		{
			PlanID:         5,
			Plan:           &models.Plan{ID: 5, Name: "Monthly <Pro>"},
			Quantity:       2,
			UnitPriceCents: 1999,
			LineTotalCents: 3998,
		},
	}
	user := &models.User{Name: "Jane Buyer", Email: "jane@example.com"}

	data, err := Render(order, invoice, items, user)
	require.NoError(t, err)

	html := string(data)
	assert.Contains(t, html, "Invoice INV-ABCD1234")
	assert.Contains(t, html, "Order #42")
	assert.Contains(t, html, "2026-03-14")
	assert.Contains(t, html, "Jane Buyer")
	assert.Contains(t, html, "jane@example.com")
	assert.Contains(t, html, "39.98 USD")
	assert.Contains(t, html, "19.99")
	assert.Contains(t, html, "paid")
	// html/template escapes plan names
	assert.Contains(t, html, "Monthly &lt;Pro&gt;")
	assert.NotContains(t, html, "Monthly <Pro>")
}

func TestRenderFallsBackToPlanID(t *testing.T) {
	t.Parallel()

	order := &models.Order{ID: 7}
	invoice := &models.Invoice{ID: 1, Number: "INV-X", AmountCents: 100, Currency: "USD"}
	items := []models.OrderItem{{PlanID: 3, Quantity: 1, UnitPriceCents: 100, LineTotalCents: 100}}
	user := &models.User{Name: "n", Email: "e@x.y"}

	data, err := Render(order, invoice, items, user)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Plan #3")
}

// The artifact path depends on the invoice id only, so re-rendering
// overwrites in place.
func TestArtifactPathIsStable(t *testing.T) {
	t.Parallel()

	first := ArtifactPath(9)
	second := ArtifactPath(9)
	assert.Equal(t, first, second)
	assert.Equal(t, "invoices/inv-9.html", first)
	assert.NotEqual(t, first, ArtifactPath(10))
}

func TestFormatCents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{9, "0.09"},
		{100, "1.00"},
		{3998, "39.98"},
		{-150, "-1.50"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, formatCents(tc.cents), "cents=%d", tc.cents)
	}
}
