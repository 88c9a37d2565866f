package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/DennisKoslow/ProxyDesk/app/controllers"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/middleware"
)

type HttpRouter struct {
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Resolve the caller identity once per request, before any route runs.
	app.Use(middleware.UserContextMiddleware)

	// Provider-facing endpoints. Webhooks authenticate through provider
	// signatures and event dedup, not through user credentials.
	app.Post("/webhook/:gateway", controllers.HandleGatewayWebhook)

	// Buyer return/cancel landing after a redirect payment.
	app.Get("/payment/return", controllers.HandlePaymentReturn)
	app.Get("/payment/cancel", controllers.HandlePaymentCancel)

	// Invoice artifact download, guarded inside the handler.
	app.Get("/invoices/:id/download", middleware.RequireAuth, controllers.HandleInvoiceDownload)
}
