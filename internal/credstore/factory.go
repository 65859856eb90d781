package credstore

import (
	"fmt"

	"credsync/internal/config"
	"credsync/internal/crypto"
)

// Open constructs the Store backend selected by the configuration.
func Open(cfg *config.Config, encryptor *crypto.ConfigEncryptor) (Store, error) {
	switch cfg.DatabaseType {
	case "postgres", "postgresql":
		return NewPostgresStore(PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		}, encryptor)
	case "sqlite":
		return NewSQLiteStore(cfg.DatabasePath, encryptor)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
}
