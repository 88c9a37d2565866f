package wallet

import (
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DennisKoslow/ProxyDesk/app/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Wallet{}, &models.WalletTransaction{}))
	return NewLedger(db)
}

func journalCount(t *testing.T, l *Ledger, walletID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, l.db.Model(&models.WalletTransaction{}).
		Where("wallet_id = ?", walletID).Count(&n).Error)
	return n
}

func TestCreditAndDebitMaintainBalanceAndJournal(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	w, err := l.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)

	_, err = l.Credit(w.ID, 5000, "topup-1", "")
	require.NoError(t, err)

	// $30 off a $50 balance
	entry, err := l.Debit(w.ID, 3000, "order-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(-3000), entry.AmountCents)
	assert.Equal(t, models.WalletTxDebit, entry.Type)

	w, err = l.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), w.BalanceCents)
	assert.Equal(t, int64(2), journalCount(t, l, w.ID))

	drift, err := l.Reconcile(w.ID)
	require.NoError(t, err)
	assert.Zero(t, drift, "journal sum must equal the maintained balance")
}

func TestDebitInsufficientFundsLeavesWalletUntouched(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	w, err := l.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)
	_, err = l.Credit(w.ID, 1000, "topup-1", "")
	require.NoError(t, err)

	// $30 off a $10 balance
	_, err = l.Debit(w.ID, 3000, "order-1", "")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	w, err = l.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.BalanceCents)
	assert.Equal(t, int64(1), journalCount(t, l, w.ID))

	drift, err := l.Reconcile(w.ID)
	require.NoError(t, err)
	assert.Zero(t, drift)
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	w, err := l.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)

	_, err = l.Debit(w.ID, 0, "order-1", "")
	require.Error(t, err)
	_, err = l.Credit(w.ID, -500, "topup-1", "")
	require.Error(t, err)
	assert.Zero(t, journalCount(t, l, w.ID))
}

// A debit inside a caller transaction rolls back with it: neither the
// balance change nor the journal row survive.
func TestDebitTxRollsBackWithCallerTransaction(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	w, err := l.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)
	_, err = l.Credit(w.ID, 5000, "topup-1", "")
	require.NoError(t, err)

	sentinel := errors.New("later step failed")
	err = l.db.Transaction(func(tx *gorm.DB) error {
		if _, err := l.DebitTx(tx, w.ID, 2000, "order-1", ""); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	w, err = l.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), w.BalanceCents)
	assert.Equal(t, int64(1), journalCount(t, l, w.ID))
}

// The journal enforces one entry per (wallet, reference), so replayed
// callback credits cannot double-book.
func TestJournalReferenceIsUniquePerWallet(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	w, err := l.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)

	_, err = l.Credit(w.ID, 1000, "topup-ref9", "")
	require.NoError(t, err)
	_, err = l.Credit(w.ID, 1000, "topup-ref9", "")
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	w, err = l.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.BalanceCents, "the duplicate credit must roll back")
	assert.Equal(t, int64(1), journalCount(t, l, w.ID))
}

func TestGetOrCreateWalletIsIdempotent(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	first, err := l.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)
	second, err := l.GetOrCreateWallet(10, "EUR")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "USD", second.Currency, "an existing wallet keeps its currency")
}

func TestReconcileDetectsDrift(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	w, err := l.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)
	_, err = l.Credit(w.ID, 1000, "topup-1", "")
	require.NoError(t, err)

	// corrupt the maintained balance out of band
	require.NoError(t, l.db.Model(&models.Wallet{}).Where("id = ?", w.ID).
		Update("balance_cents", 999).Error)

	drift, err := l.Reconcile(w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), drift)
}
