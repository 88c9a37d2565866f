package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/wallet"
	"gorm.io/gorm"
)

// WalletAdapter implements the ledger rail. There is no network call:
// "payment" and "capture" are one atomic wallet debit. The checkout
// orchestrator uses the ledger directly inside its own transaction; this
// adapter covers standalone calls (top-up confirmation, refunds) and keeps
// the envelope uniform across all rails.
type WalletAdapter struct {
	db     *gorm.DB
	ledger *wallet.Ledger
}

func NewWalletAdapter(db *gorm.DB, ledger *wallet.Ledger) *WalletAdapter {
	return &WalletAdapter{db: db, ledger: ledger}
}

func (a *WalletAdapter) Info() Info {
	return Info{Slug: "wallet", DisplayName: "Account Balance", Rail: "ledger"}
}

func (a *WalletAdapter) SupportedCurrencies() []string {
	return []string{"USD"}
}

// CreatePayment debits the buyer's wallet for the full amount.
func (a *WalletAdapter) CreatePayment(ctx context.Context, req Request) Result {
	_ = ctx
	if a.db == nil || a.ledger == nil {
		return notConfigured()
	}
	if req.UserID == 0 {
		return fail("wallet: buyer is required")
	}

	w, err := a.ledger.GetOrCreateWallet(req.UserID, req.Currency)
	if err != nil {
		return fail("wallet: lookup failed: %v", err)
	}

	reference := fmt.Sprintf("order-%d", req.OrderID)
	entry, err := a.ledger.Debit(w.ID, req.AmountCents, reference, "")
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		return fail("insufficient balance")
	}
	if err != nil {
		return fail("wallet: debit failed: %v", err)
	}

	return ok(map[string]interface{}{
		"provider_ref": reference,
		"paid":         true,
		"tx_id":        entry.ID,
	})
}

// VerifyPayment checks that a completed debit exists for the reference.
func (a *WalletAdapter) VerifyPayment(ctx context.Context, providerRef string) Result {
	_ = ctx
	if a.db == nil {
		return notConfigured()
	}

	var entry models.WalletTransaction
	err := a.db.Where("reference = ? AND type = ?", providerRef, models.WalletTxDebit).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ok(map[string]interface{}{"provider_ref": providerRef, "paid": false, "status": "missing"})
	}
	if err != nil {
		return fail("wallet: verify failed: %v", err)
	}

	return ok(map[string]interface{}{
		"provider_ref": providerRef,
		"paid":         entry.Status == models.WalletTxStatusCompleted,
		"status":       entry.Status,
	})
}

// ProcessWebhook is a no-op: the ledger rail has no asynchronous callbacks.
func (a *WalletAdapter) ProcessWebhook(ctx context.Context, payload []byte) Result {
	_ = ctx
	_ = payload
	return ok(map[string]interface{}{"action": ActionIgnore})
}

// RefundPayment credits the debited amount back to the wallet.
func (a *WalletAdapter) RefundPayment(ctx context.Context, providerRef string, amountCents int64) Result {
	_ = ctx
	if a.db == nil || a.ledger == nil {
		return notConfigured()
	}

	var entry models.WalletTransaction
	if err := a.db.Where("reference = ? AND type = ?", providerRef, models.WalletTxDebit).First(&entry).Error; err != nil {
		return fail("wallet: refund lookup failed: %v", err)
	}

	amount := amountCents
	if amount <= 0 {
		amount = -entry.AmountCents
	}
	if _, err := a.ledger.Credit(entry.WalletID, amount, providerRef+"-refund", ""); err != nil {
		return fail("wallet: refund failed: %v", err)
	}
	return ok(map[string]interface{}{"provider_ref": providerRef, "refunded_cents": amount})
}
