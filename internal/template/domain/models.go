package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	"gorm.io/datatypes"
)

// NotificationTemplate is keyed by (tenant_id, code) where a null tenant id
// marks the system default. A tenant-scoped row with the same code shadows
// the default.
type NotificationTemplate struct {
	ID       snowflake.ID  `gorm:"primaryKey"`
	TenantID *snowflake.ID `gorm:"uniqueIndex:idx_templates_tenant_code,priority:1"`
	Code     string        `gorm:"type:text;not null;uniqueIndex:idx_templates_tenant_code,priority:2"`
	Name     string        `gorm:"type:text"`

	SMSEnabled bool   `gorm:"not null;default:false"`
	SMSBody    string `gorm:"type:text"`

	EmailEnabled  bool   `gorm:"not null;default:false"`
	EmailSubject  string `gorm:"type:text"`
	EmailBody     string `gorm:"type:text"`
	EmailHTMLBody string `gorm:"type:text"`

	InAppEnabled bool   `gorm:"not null;default:false"`
	InAppBody    string `gorm:"type:text"`

	PushEnabled bool   `gorm:"not null;default:false"`
	PushTitle   string `gorm:"type:text"`
	PushBody    string `gorm:"type:text"`

	// Variables documents the placeholders the bodies expect, name to
	// description. Informational only; rendering does not enforce it.
	Variables datatypes.JSONMap `gorm:"type:json"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (NotificationTemplate) TableName() string { return "notification_templates" }

// ChannelEnabled reports whether the template carries content for the
// channel.
func (t NotificationTemplate) ChannelEnabled(channel outbounddomain.Channel) bool {
	switch channel {
	case outbounddomain.ChannelSMS:
		return t.SMSEnabled
	case outbounddomain.ChannelEmail:
		return t.EmailEnabled
	case outbounddomain.ChannelInApp:
		return t.InAppEnabled
	case outbounddomain.ChannelPush:
		return t.PushEnabled
	default:
		return false
	}
}

// RenderedContent is the channel-specific output of rendering a template.
// Subject, HTMLBody and Title are only populated for channels that use them.
type RenderedContent struct {
	Subject  string
	Body     string
	HTMLBody string
	Title    string
}
