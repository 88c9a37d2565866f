package controllers

import (
	"errors"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/database"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/usercontext"
)

// HandleInvoiceDownload serves the rendered invoice artifact. Buyers can only
// fetch their own invoices; admins can fetch any.
func HandleInvoiceDownload(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	invoiceID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || invoiceID == 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid invoice id")
	}

	db := database.GetDB()
	var invoice models.Invoice
	if err := db.Preload("Order").First(&invoice, uint(invoiceID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Invoice not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load invoice")
	}
	if !userCtx.IsAdmin && (invoice.Order == nil || invoice.Order.UserID != userCtx.UserID) {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "Not your invoice")
	}

	path := invoiceRenderer.LocalPath(invoice.ID)
	if _, err := os.Stat(path); err != nil {
		// Artifact missing on disk (fresh deploy or cleaned volume); re-render
		// from the invoice record, which is idempotent.
		if _, rerr := invoiceRenderer.RenderAndStore(invoice.OrderID); rerr != nil {
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Invoice artifact unavailable")
		}
	}

	c.Set(fiber.HeaderContentType, "text/html; charset=utf-8")
	return c.SendFile(path)
}
