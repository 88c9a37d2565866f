package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/database"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/env"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/gateway"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/usercontext"
)

const (
	topupMinCents = int64(100)      // 1.00
	topupMaxCents = int64(10000000) // 100,000.00
)

type walletTopupRequest struct {
	AmountCents   int64  `json:"amount_cents"`
	PaymentMethod string `json:"payment_method"`
	PayCurrency   string `json:"pay_currency"`
}

type walletTopupConfirmRequest struct {
	PaymentMethod string `json:"payment_method"`
	ProviderRef   string `json:"provider_ref"`
}

// HandleWalletBalance returns the wallet balance and recent journal entries.
func HandleWalletBalance(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	w, err := walletLedger.GetOrCreateWallet(userCtx.UserID, "USD")
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load wallet")
	}

	var entries []models.WalletTransaction
	if err := database.GetDB().
		Where("wallet_id = ?", w.ID).
		Order("id DESC").
		Limit(50).
		Find(&entries).Error; err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load transactions")
	}

	return c.JSON(fiber.Map{
		"wallet_id":     w.ID,
		"balance_cents": w.BalanceCents,
		"currency":      w.Currency,
		"transactions":  entries,
	})
}

// HandleWalletTopup starts a top-up payment on an external gateway. The
// credit itself is only booked once the payment is confirmed.
func HandleWalletTopup(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req walletTopupRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body could not be parsed")
	}
	if req.AmountCents < topupMinCents || req.AmountCents > topupMaxCents {
		return jsonError(c, fiber.StatusUnprocessableEntity, "invalid_amount", "Top-up amount out of range")
	}
	if req.PaymentMethod == models.PaymentMethodWallet {
		return jsonError(c, fiber.StatusBadRequest, "method_unavailable", "Cannot top up a wallet from itself")
	}

	adapter, err := gatewayRegistry.Get(req.PaymentMethod)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "method_unavailable", "The selected payment method is not available")
	}

	reference := "TOPUP-" + strings.ToUpper(uuid.NewString()[:8])
	publicURL := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := adapter.CreatePayment(ctx, gateway.Request{
		UserID:        userCtx.UserID,
		InvoiceNumber: reference,
		AmountCents:   req.AmountCents,
		Currency:      "USD",
		Description:   fmt.Sprintf("Wallet top-up for user %d", userCtx.UserID),
		CustomerEmail: userCtx.Email,
		SuccessURL:    publicURL + "/payment/return",
		CancelURL:     publicURL + "/payment/cancel",
		PayCurrency:   req.PayCurrency,
	})
	if res.IsNotConfigured() {
		return jsonError(c, fiber.StatusBadRequest, "method_unavailable", "The selected payment method is not configured")
	}
	if !res.Success {
		log.Errorf("[Wallet] topup create user=%d method=%s: %s", userCtx.UserID, req.PaymentMethod, res.Error)
		return jsonError(c, fiber.StatusBadGateway, "gateway_failed", "The payment provider rejected the request")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"reference":    reference,
		"provider_ref": res.String("provider_ref"),
		"redirect_url": res.String("payment_url"),
	})
}

// HandleWalletTopupConfirm verifies a finished top-up payment with the
// provider and credits the wallet exactly once per provider reference.
func HandleWalletTopupConfirm(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req walletTopupConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body could not be parsed")
	}
	if req.ProviderRef == "" {
		return jsonError(c, fiber.StatusBadRequest, "missing_reference", "No payment reference supplied")
	}

	adapter, err := gatewayRegistry.Get(req.PaymentMethod)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "method_unavailable", "The selected payment method is not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := adapter.VerifyPayment(ctx, req.ProviderRef)
	if !res.Success {
		return jsonError(c, fiber.StatusBadGateway, "gateway_failed", "Payment could not be verified")
	}
	paid, _ := res.Data["paid"].(bool)
	if !paid {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"credited": false,
			"status":   res.String("status"),
		})
	}

	w, err := walletLedger.GetOrCreateWallet(userCtx.UserID, "USD")
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load wallet")
	}

	amount := walletTopupAmount(res)
	if amount <= 0 {
		return jsonError(c, fiber.StatusBadGateway, "gateway_failed", "Provider did not report a settled amount")
	}

	// One credit per provider reference, no matter how often or how
	// concurrently confirm is called: the journal's unique
	// (wallet_id, reference) key makes the second insert fail.
	journalRef := "topup-" + req.ProviderRef
	duplicate := false
	if _, err := walletLedger.Credit(w.ID, amount, journalRef, fmt.Sprintf(`{"method":%q}`, req.PaymentMethod)); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Errorf("[Wallet] topup credit user=%d ref=%s: %v", userCtx.UserID, req.ProviderRef, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to credit wallet")
		}
		duplicate = true
	}

	w, err = walletLedger.GetOrCreateWallet(userCtx.UserID, "USD")
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load wallet")
	}
	return c.JSON(fiber.Map{
		"credited":      true,
		"duplicate":     duplicate,
		"balance_cents": w.BalanceCents,
	})
}

// walletTopupAmount extracts the settled amount from the verify envelope.
func walletTopupAmount(res gateway.Result) int64 {
	switch v := res.Data["amount_cents"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}
