package gateway

import (
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/wallet"
	"gorm.io/gorm"
)

// NewRegistryFromEnv builds the full adapter registry. Adapters with missing
// credentials stay registered and answer "not configured", so an inactive
// gateway is a catalog state rather than a crash.
func NewRegistryFromEnv(db *gorm.DB, ledger *wallet.Ledger) *Registry {
	r := NewRegistry()
	r.Register(NewStripeAdapterFromEnv())
	r.Register(NewPayPalAdapterFromEnv())
	r.Register(NewNowPaymentsAdapterFromEnv())
	r.Register(NewWalletAdapter(db, ledger))
	return r
}
