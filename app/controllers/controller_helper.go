package controllers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/DennisKoslow/ProxyDesk/internal/pkg/checkout"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/gateway"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/invoicedoc"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/wallet"
)

// ProvisionScheduler queues another provisioning pass for a paid order. The
// redis job queue satisfies it.
type ProvisionScheduler interface {
	ScheduleProvisionRetry(ctx context.Context, orderID uint) error
}

// Shared service instances wired once at startup.
var (
	checkoutService *checkout.Service
	invoiceRenderer *invoicedoc.Renderer
	walletLedger    *wallet.Ledger
	gatewayRegistry *gateway.Registry
	retryScheduler  ProvisionScheduler
)

// InitControllers injects the service layer. Must run before routes are
// registered.
func InitControllers(svc *checkout.Service, renderer *invoicedoc.Renderer, ledger *wallet.Ledger, registry *gateway.Registry, scheduler ProvisionScheduler) {
	checkoutService = svc
	invoiceRenderer = renderer
	walletLedger = ledger
	gatewayRegistry = registry
	retryScheduler = scheduler
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// GetClientIP determines the actual client IP address considering proxies.
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
			return strings.TrimSpace(parts[0])
		}
	}
	return c.IP()
}
