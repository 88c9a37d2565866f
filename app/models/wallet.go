package models

import "time"

// Wallet transaction types and statuses.
const (
	WalletTxDebit  = "debit"
	WalletTxCredit = "credit"

	WalletTxStatusCompleted = "completed"
	WalletTxStatusPending   = "pending"
)

// Wallet is a user's internal balance in a fixed settlement currency. The
// balance field is maintained, never recomputed from the journal in the hot
// path, and is only mutated through the wallet ledger.
type Wallet struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	BalanceCents int64     `gorm:"not null;default:0" json:"balance_cents"`
	Currency     string    `gorm:"type:varchar(10);not null;default:'USD'" json:"currency"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// WalletTransaction is one append-only journal entry. The signed amount sum
// over a wallet's journal must always equal the wallet balance. The
// (wallet_id, reference) key is unique so callback-driven credits stay
// idempotent even under concurrent delivery.
type WalletTransaction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	WalletID    uint      `gorm:"not null;index;uniqueIndex:ux_wallet_transactions_wallet_ref,priority:1" json:"wallet_id"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"` // signed: debits negative, credits positive
	Type        string    `gorm:"type:varchar(10);not null;index" json:"type"`
	Status      string    `gorm:"type:varchar(20);not null;default:'completed'" json:"status"`
	Reference   string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_wallet_transactions_wallet_ref,priority:2" json:"reference"`
	Metadata    string    `gorm:"type:text" json:"metadata"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
