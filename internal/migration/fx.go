package migration

import (
	"github.com/postloop/postloop/internal/connectstate/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module applies the schema on startup so a fresh database is usable
// without external migration tooling.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		return conn.AutoMigrate(
			&domain.ConnectState{},
		)
	}),
)
