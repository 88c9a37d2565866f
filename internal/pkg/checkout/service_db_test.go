package checkout

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/gateway"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/usercontext"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/wallet"
)

// dbFixture backs the orchestrator with a real database so the atomic
// order+invoice+items creation and the wallet debit can be observed end to
// end, including rollbacks.
type dbFixture struct {
	db      *gorm.DB
	svc     *Service
	ledger  *wallet.Ledger
	adapter *fakeAdapter
	prov    *fakeProvisioner
}

func newDBFixture(t *testing.T) *dbFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Server{},
		&models.Plan{},
		&models.PaymentMethod{},
		&models.Order{},
		&models.OrderItem{},
		&models.Invoice{},
		&models.Wallet{},
		&models.WalletTransaction{},
	))

	f := &dbFixture{
		db:      db,
		ledger:  wallet.NewLedger(db),
		adapter: &fakeAdapter{slug: "stripe"},
		prov:    &fakeProvisioner{},
	}
	registry := gateway.NewRegistry()
	registry.Register(f.adapter)
	registry.Register(&fakeAdapter{slug: "wallet"})

	f.svc = NewService(ServiceConfig{
		DB:          db,
		Repo:        NewRepository(db),
		Registry:    registry,
		Ledger:      f.ledger,
		Provisioner: f.prov,
		Renderer:    &fakeRenderer{},
		Carts:       noopCarts{},
		Locker:      &fakeLocker{},
		PublicURL:   "https://proxydesk.example",
	})
	return f
}

func (f *dbFixture) seedCatalog(t *testing.T) models.Plan {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Server{
		ID: 1, Name: "de-1", BaseURL: "https://panel.example:2053",
		Username: "admin", Password: "x", IsActive: true,
	}).Error)
	plan := models.Plan{
		ID: 1, ServerID: 1, Name: "Monthly", Slug: "monthly",
		PriceCents: 3000, Currency: "USD", DurationDays: 30, IsActive: true,
	}
	require.NoError(t, f.db.Create(&plan).Error)
	require.NoError(t, f.db.Create(&models.PaymentMethod{Slug: "stripe", DisplayName: "Card", IsActive: true}).Error)
	require.NoError(t, f.db.Create(&models.PaymentMethod{Slug: "wallet", DisplayName: "Account Balance", IsActive: true}).Error)
	require.NoError(t, f.db.Create(&models.User{
		ID: 10, Name: "Jane Buyer", Email: "jane@example.com", Password: "irrelevant",
	}).Error)
	return plan
}

func (f *dbFixture) rowCount(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func dbBuyer() usercontext.UserContext {
	return usercontext.UserContext{UserID: 10, Username: "jane", Email: "jane@example.com", IsLoggedIn: true}
}

func dbRequest(method string, lines ...CartLine) CheckoutRequest {
	return CheckoutRequest{
		Name:          "Jane Buyer",
		Email:         "jane@example.com",
		PaymentMethod: method,
		Lines:         lines,
	}
}

func TestCheckoutPersistsOrderInvoiceAndItems(t *testing.T) {
	t.Parallel()

	f := newDBFixture(t)
	plan := f.seedCatalog(t)

	out, err := f.svc.Checkout(context.Background(), dbBuyer(),
		dbRequest("stripe", CartLine{PlanID: plan.ID, Quantity: 2}))
	require.NoError(t, err)
	assert.Equal(t, "https://pay", out.RedirectURL)

	var order models.Order
	require.NoError(t, f.db.Preload("Items").First(&order, out.Order.ID).Error)
	assert.Equal(t, models.OrderStatusProcessing, order.OrderStatus)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, int64(6000), order.TotalCents)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(3000), order.Items[0].UnitPriceCents)
	assert.Equal(t, int64(6000), order.Items[0].LineTotalCents)

	var invoice models.Invoice
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&invoice).Error)
	assert.Equal(t, "ref-1", invoice.ProviderRef)
	assert.Equal(t, int64(6000), invoice.AmountCents)
	assert.Contains(t, invoice.SuccessURL, fmt.Sprintf("order_id=%d", order.ID))
}

// A gateway rejection rolls the whole unit of work back: no order, item or
// invoice row survives.
func TestCheckoutGatewayFailureRollsBackEverything(t *testing.T) {
	t.Parallel()

	f := newDBFixture(t)
	plan := f.seedCatalog(t)
	f.adapter.createResult = &gateway.Result{Success: false, Error: "card declined", Data: map[string]interface{}{}}

	_, err := f.svc.Checkout(context.Background(), dbBuyer(),
		dbRequest("stripe", CartLine{PlanID: plan.ID, Quantity: 1}))
	require.ErrorIs(t, err, ErrGatewayFailed)

	assert.Zero(t, f.rowCount(t, &models.Order{}))
	assert.Zero(t, f.rowCount(t, &models.OrderItem{}))
	assert.Zero(t, f.rowCount(t, &models.Invoice{}))
}

// $30 order against a $50 balance: paid inline, balance and journal move
// together, provisioning runs.
func TestCheckoutWalletDebitsAtomically(t *testing.T) {
	t.Parallel()

	f := newDBFixture(t)
	plan := f.seedCatalog(t)
	w, err := f.ledger.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)
	_, err = f.ledger.Credit(w.ID, 5000, "topup-seed", "")
	require.NoError(t, err)

	out, err := f.svc.Checkout(context.Background(), dbBuyer(),
		dbRequest("wallet", CartLine{PlanID: plan.ID, Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, out.Order.PaymentStatus)
	assert.Equal(t, []uint{out.Order.ID}, f.prov.calls)

	var fresh models.Wallet
	require.NoError(t, f.db.First(&fresh, w.ID).Error)
	assert.Equal(t, int64(2000), fresh.BalanceCents)

	var entry models.WalletTransaction
	require.NoError(t, f.db.Where("wallet_id = ? AND type = ?", w.ID, models.WalletTxDebit).First(&entry).Error)
	assert.Equal(t, int64(-3000), entry.AmountCents)
	assert.Equal(t, fmt.Sprintf("order-%d", out.Order.ID), entry.Reference)

	drift, err := f.ledger.Reconcile(w.ID)
	require.NoError(t, err)
	assert.Zero(t, drift)
}

// $30 order against a $10 balance: the sentinel surfaces and nothing is
// persisted, the balance included.
func TestCheckoutWalletInsufficientBalanceRollsBack(t *testing.T) {
	t.Parallel()

	f := newDBFixture(t)
	plan := f.seedCatalog(t)
	w, err := f.ledger.GetOrCreateWallet(10, "USD")
	require.NoError(t, err)
	_, err = f.ledger.Credit(w.ID, 1000, "topup-seed", "")
	require.NoError(t, err)

	_, err = f.svc.Checkout(context.Background(), dbBuyer(),
		dbRequest("wallet", CartLine{PlanID: plan.ID, Quantity: 1}))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Zero(t, f.rowCount(t, &models.Order{}))
	assert.Zero(t, f.rowCount(t, &models.OrderItem{}))
	assert.Zero(t, f.rowCount(t, &models.Invoice{}))
	assert.Empty(t, f.prov.calls)

	var fresh models.Wallet
	require.NoError(t, f.db.First(&fresh, w.ID).Error)
	assert.Equal(t, int64(1000), fresh.BalanceCents)
	assert.Equal(t, int64(1), f.rowCount(t, &models.WalletTransaction{}), "only the seed credit remains")
}

func TestCheckoutRejectsMixedCurrencyCart(t *testing.T) {
	t.Parallel()

	f := newDBFixture(t)
	plan := f.seedCatalog(t)
	eur := models.Plan{
		ID: 2, ServerID: 1, Name: "Monthly EU", Slug: "monthly-eu",
		PriceCents: 2500, Currency: "EUR", DurationDays: 30, IsActive: true,
	}
	require.NoError(t, f.db.Create(&eur).Error)

	_, err := f.svc.Checkout(context.Background(), dbBuyer(),
		dbRequest("stripe", CartLine{PlanID: plan.ID, Quantity: 1}, CartLine{PlanID: eur.ID, Quantity: 1}))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "lines")

	assert.Zero(t, f.rowCount(t, &models.Order{}))
}
