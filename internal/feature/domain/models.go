package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
)

// Feature codes for the delivery channels.
const (
	FeatureChannelSMS   = "channel.sms"
	FeatureChannelEmail = "channel.email"
	FeatureChannelInApp = "channel.in_app"
	FeatureChannelPush  = "channel.push"
)

// ChannelFeature maps a channel to its gate code.
func ChannelFeature(channel outbounddomain.Channel) string {
	switch channel {
	case outbounddomain.ChannelSMS:
		return FeatureChannelSMS
	case outbounddomain.ChannelEmail:
		return FeatureChannelEmail
	case outbounddomain.ChannelInApp:
		return FeatureChannelInApp
	case outbounddomain.ChannelPush:
		return FeatureChannelPush
	default:
		return ""
	}
}

// defaultEnabled is what a tenant gets with no explicit feature row. SMS
// and in-app come with every plan; email and push are plan upgrades.
var defaultEnabled = map[string]bool{
	FeatureChannelSMS:   true,
	FeatureChannelInApp: true,
}

// DefaultEnabled reports the gate's value when no row exists.
func DefaultEnabled(code string) bool { return defaultEnabled[code] }

// TenantFeature is one explicit plan-derived gate for a tenant.
type TenantFeature struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"not null;uniqueIndex:idx_tenant_features_tenant_code,priority:1"`
	Code     string       `gorm:"type:text;not null;uniqueIndex:idx_tenant_features_tenant_code,priority:2"`
	Enabled  bool         `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TenantFeature) TableName() string { return "tenant_features" }

// Service answers plan feature-gate lookups.
type Service interface {
	// HasFeature reports whether the tenant's plan includes the feature,
	// falling back to the code's default when no row exists.
	HasFeature(ctx context.Context, tenantID snowflake.ID, code string) (bool, error)

	// SetFeature writes an explicit gate for the tenant.
	SetFeature(ctx context.Context, tenantID snowflake.ID, code string, enabled bool) error
}
