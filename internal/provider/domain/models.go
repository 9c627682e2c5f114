package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	"gorm.io/datatypes"
)

// ProviderConfig names which adapter serves a channel and carries its
// credentials. A null tenant id marks the system default; a tenant-scoped
// row with the same channel wins over it.
type ProviderConfig struct {
	ID       snowflake.ID  `gorm:"primaryKey"`
	TenantID *snowflake.ID `gorm:"index:idx_provider_configs_tenant_channel,priority:1"`
	Channel  outbounddomain.Channel `gorm:"type:text;not null;index:idx_provider_configs_tenant_channel,priority:2"`

	// Name selects the adapter: netgsm, smtp, mailrest, mock.
	Name        string            `gorm:"type:text;not null"`
	Credentials datatypes.JSONMap `gorm:"type:json"`
	Active      bool              `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProviderConfig) TableName() string { return "provider_configs" }

// CredentialString reads a string credential, empty when absent.
func (c ProviderConfig) CredentialString(key string) string {
	if c.Credentials == nil {
		return ""
	}
	if v, ok := c.Credentials[key].(string); ok {
		return v
	}
	return ""
}
