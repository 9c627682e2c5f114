package migration

import (
	"github.com/smallbiznis/relaya/internal/config"
	creditdomain "github.com/smallbiznis/relaya/internal/credit/domain"
	featuredomain "github.com/smallbiznis/relaya/internal/feature/domain"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	preferencedomain "github.com/smallbiznis/relaya/internal/preference/domain"
	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	"github.com/smallbiznis/relaya/internal/seed"
	templatedomain "github.com/smallbiznis/relaya/internal/template/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// mysql/sqlite are dev and self-host conveniences; schema
			// follows the models directly there.
			if err := conn.AutoMigrate(
				&creditdomain.CreditBalance{},
				&creditdomain.CreditTransaction{},
				&outbounddomain.OutboundMessage{},
				&templatedomain.NotificationTemplate{},
				&preferencedomain.NotificationPreference{},
				&featuredomain.TenantFeature{},
				&providerdomain.ProviderConfig{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureDefaults(conn, cfg)
	}),
)
