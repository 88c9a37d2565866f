package mail

import (
	"fmt"

	"github.com/DennisKoslow/ProxyDesk/internal/pkg/env"
)

// OrderNotifier sends buyer-facing transactional mail. Sending is disabled
// when no SMTP host is configured.
type OrderNotifier struct{}

// OrderPaid tells the buyer their order was paid and where the invoice lives.
func (OrderNotifier) OrderPaid(email string, orderID uint, invoiceURL string) error {
	if env.GetEnv("SMTP_HOST", "") == "" {
		return nil
	}

	subject := fmt.Sprintf("Order #%d confirmed", orderID)
	body := fmt.Sprintf(
		"<p>Thank you for your purchase.</p>"+
			"<p>Order #%d has been paid and your access is being set up.</p>"+
			"<p><a href=%q>Download your invoice</a></p>",
		orderID, invoiceURL,
	)
	return SendMail(email, subject, body)
}
