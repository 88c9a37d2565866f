package wallet

import (
	"errors"
	"fmt"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientFunds is returned when a debit exceeds the wallet balance.
var ErrInsufficientFunds = errors.New("insufficient wallet balance")

// Ledger performs atomic balance mutations with an append-only journal.
// Balance changes and journal inserts always share one transaction, and the
// wallet row is locked for the duration so concurrent orders against the same
// wallet serialize instead of losing updates.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a ledger bound to a GORM handle.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// GetOrCreateWallet returns the user's wallet, creating an empty one in the
// given currency if none exists yet.
func (l *Ledger) GetOrCreateWallet(userID uint, currency string) (*models.Wallet, error) {
	var w models.Wallet
	err := l.db.Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		w = models.Wallet{UserID: userID, Currency: currency}
		if err := l.db.Create(&w).Error; err != nil {
			return nil, err
		}
		return &w, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Debit removes funds in its own transaction.
func (l *Ledger) Debit(walletID uint, amountCents int64, reference, metadata string) (*models.WalletTransaction, error) {
	var tx *models.WalletTransaction
	err := l.db.Transaction(func(dbtx *gorm.DB) error {
		var err error
		tx, err = l.DebitTx(dbtx, walletID, amountCents, reference, metadata)
		return err
	})
	return tx, err
}

// Credit adds funds in its own transaction.
func (l *Ledger) Credit(walletID uint, amountCents int64, reference, metadata string) (*models.WalletTransaction, error) {
	var tx *models.WalletTransaction
	err := l.db.Transaction(func(dbtx *gorm.DB) error {
		var err error
		tx, err = l.CreditTx(dbtx, walletID, amountCents, reference, metadata)
		return err
	})
	return tx, err
}

// DebitTx removes funds inside the caller's transaction, so order creation
// and the wallet debit commit or roll back together.
func (l *Ledger) DebitTx(dbtx *gorm.DB, walletID uint, amountCents int64, reference, metadata string) (*models.WalletTransaction, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amountCents)
	}

	var w models.Wallet
	if err := dbtx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&w, walletID).Error; err != nil {
		return nil, err
	}
	if w.BalanceCents < amountCents {
		return nil, ErrInsufficientFunds
	}

	w.BalanceCents -= amountCents
	if err := dbtx.Model(&models.Wallet{}).Where("id = ?", w.ID).
		Update("balance_cents", w.BalanceCents).Error; err != nil {
		return nil, err
	}

	entry := &models.WalletTransaction{
		WalletID:    walletID,
		AmountCents: -amountCents,
		Type:        models.WalletTxDebit,
		Status:      models.WalletTxStatusCompleted,
		Reference:   reference,
		Metadata:    metadata,
	}
	if err := dbtx.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx adds funds inside the caller's transaction.
func (l *Ledger) CreditTx(dbtx *gorm.DB, walletID uint, amountCents int64, reference, metadata string) (*models.WalletTransaction, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amountCents)
	}

	var w models.Wallet
	if err := dbtx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&w, walletID).Error; err != nil {
		return nil, err
	}

	w.BalanceCents += amountCents
	if err := dbtx.Model(&models.Wallet{}).Where("id = ?", w.ID).
		Update("balance_cents", w.BalanceCents).Error; err != nil {
		return nil, err
	}

	entry := &models.WalletTransaction{
		WalletID:    walletID,
		AmountCents: amountCents,
		Type:        models.WalletTxCredit,
		Status:      models.WalletTxStatusCompleted,
		Reference:   reference,
		Metadata:    metadata,
	}
	if err := dbtx.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// Reconcile audits a wallet: the signed journal sum must equal the maintained
// balance. Returns the drift (balance minus journal sum), zero when sound.
func (l *Ledger) Reconcile(walletID uint) (int64, error) {
	var w models.Wallet
	if err := l.db.First(&w, walletID).Error; err != nil {
		return 0, err
	}

	var journalSum int64
	err := l.db.Model(&models.WalletTransaction{}).
		Where("wallet_id = ?", walletID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&journalSum).Error
	if err != nil {
		return 0, err
	}
	return w.BalanceCents - journalSum, nil
}
