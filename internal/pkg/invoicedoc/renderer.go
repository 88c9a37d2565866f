package invoicedoc

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Renderer produces the durable invoice artifact for a priced order. The
// artifact path is derived from the invoice id only, so re-rendering the
// same invoice overwrites in place instead of accumulating duplicates.
type Renderer struct {
	db        *gorm.DB
	root      string
	publicURL string
	archiver  Archiver
}

// Archiver mirrors rendered artifacts to remote storage. Optional.
type Archiver interface {
	Upload(key string, data []byte) error
}

// NewRenderer creates a renderer writing below the artifact root directory.
func NewRenderer(db *gorm.DB, archiver Archiver) *Renderer {
	return &Renderer{
		db:        db,
		root:      env.GetEnv("INVOICE_ARTIFACT_ROOT", "./artifacts"),
		publicURL: strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/"),
		archiver:  archiver,
	}
}

var invoiceTmpl = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Invoice {{.Invoice.Number}}</title></head>
<body>
<h1>Invoice {{.Invoice.Number}}</h1>
<p>Order #{{.Order.ID}} &middot; {{.Order.CreatedAt.Format "2006-01-02"}}</p>
<p>Billed to: {{.User.Name}} &lt;{{.User.Email}}&gt;</p>
<table>
<tr><th>Plan</th><th>Qty</th><th>Unit</th><th>Total</th></tr>
{{range .Items}}<tr><td>{{.PlanName}}</td><td>{{.Quantity}}</td><td>{{.Unit}}</td><td>{{.Total}}</td></tr>
{{end}}</table>
<p><strong>Total: {{.Total}} {{.Invoice.Currency}}</strong></p>
<p>Payment status: {{.Order.PaymentStatus}}</p>
</body>
</html>
`))

type itemView struct {
	PlanName string
	Quantity int
	Unit     string
	Total    string
}

// Render is a pure function of the invoice state to a byte-stream document.
func Render(order *models.Order, invoice *models.Invoice, items []models.OrderItem, user *models.User) ([]byte, error) {
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		name := fmt.Sprintf("Plan #%d", item.PlanID)
		if item.Plan != nil {
			name = item.Plan.Name
		}
		views = append(views, itemView{
			PlanName: name,
			Quantity: item.Quantity,
			Unit:     formatCents(item.UnitPriceCents),
			Total:    formatCents(item.LineTotalCents),
		})
	}

	var buf bytes.Buffer
	err := invoiceTmpl.Execute(&buf, map[string]interface{}{
		"Order":   order,
		"Invoice": invoice,
		"Items":   views,
		"User":    user,
		"Total":   formatCents(invoice.AmountCents),
	})
	if err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", invoice.Number, err)
	}
	return buf.Bytes(), nil
}

// RenderAndStore renders the order's invoice, persists it under the stable
// artifact path and records the download URL on the invoice row.
func (r *Renderer) RenderAndStore(orderID uint) (string, error) {
	var order models.Order
	err := r.db.
		Preload("Items").
		Preload("Items.Plan").
		Preload("Invoice").
		Preload("User").
		First(&order, orderID).Error
	if err != nil {
		return "", fmt.Errorf("invoice render: load order %d: %w", orderID, err)
	}
	if order.Invoice == nil {
		return "", fmt.Errorf("invoice render: order %d has no invoice", orderID)
	}

	data, err := Render(&order, order.Invoice, order.Items, order.User)
	if err != nil {
		return "", err
	}

	relPath := ArtifactPath(order.Invoice.ID)
	fullPath := filepath.Join(r.root, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("invoice render: write artifact: %w", err)
	}

	if r.archiver != nil {
		if err := r.archiver.Upload(relPath, data); err != nil {
			// The local artifact is the source of truth; a failed mirror is
			// logged and retried on the next render.
			log.Errorf("[InvoiceDoc] archive %s: %v", relPath, err)
		}
	}

	url := fmt.Sprintf("%s/invoices/%d/download", r.publicURL, order.Invoice.ID)
	if err := r.db.Model(&models.Invoice{}).Where("id = ?", order.Invoice.ID).
		Update("artifact_url", url).Error; err != nil {
		return "", err
	}
	return url, nil
}

// ArtifactPath returns the stable relative storage path for an invoice.
func ArtifactPath(invoiceID uint) string {
	return filepath.Join("invoices", fmt.Sprintf("inv-%d.html", invoiceID))
}

// LocalPath resolves an invoice artifact on disk for download handlers.
func (r *Renderer) LocalPath(invoiceID uint) string {
	return filepath.Join(r.root, ArtifactPath(invoiceID))
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
