package core

import (
	"github.com/rs/zerolog"
)

// Services bundles the broker's database-backed services for wiring into
// the HTTP server and the router.
type Services struct {
	Catalog *CatalogService
	Vault   *VaultService
	APIKey  *APIKeyService
	Usage   *UsageLogService
}

func NewServices(db DB, encryptionKey []byte, prober HealthProber, logger zerolog.Logger) *Services {
	catalog := NewCatalogService(db)
	return &Services{
		Catalog: catalog,
		Vault:   NewVaultService(db, catalog, encryptionKey, prober),
		APIKey:  NewAPIKeyService(db, logger),
		Usage:   NewUsageLogService(db),
	}
}
