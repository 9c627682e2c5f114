package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	"gorm.io/datatypes"
)

// NotificationPreference is one user's per-channel opt-in state. A user
// without a row receives everything; the zero value of every flag is
// opt-in.
type NotificationPreference struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"not null;uniqueIndex:idx_preferences_tenant_user,priority:1"`
	UserID   snowflake.ID `gorm:"not null;uniqueIndex:idx_preferences_tenant_user,priority:2"`

	EmailEnabled bool `gorm:"not null;default:true"`
	SMSEnabled   bool `gorm:"not null;default:true"`
	InAppEnabled bool `gorm:"not null;default:true"`
	PushEnabled  bool `gorm:"not null;default:true"`

	// TypePreferences overrides the global flags per notification type:
	// {"billing_alert": {"email": false, "push": true}}.
	TypePreferences datatypes.JSONMap `gorm:"type:json"`

	// Quiet hours in "HH:MM" 24h form, user-local. Empty means none. The
	// window may span midnight, e.g. 22:00 to 08:00.
	QuietHoursStart string `gorm:"type:text"`
	QuietHoursEnd   string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (NotificationPreference) TableName() string { return "notification_preferences" }

// channelEnabled reads the global flag for the channel.
func (p NotificationPreference) channelEnabled(channel outbounddomain.Channel) bool {
	switch channel {
	case outbounddomain.ChannelEmail:
		return p.EmailEnabled
	case outbounddomain.ChannelSMS:
		return p.SMSEnabled
	case outbounddomain.ChannelInApp:
		return p.InAppEnabled
	case outbounddomain.ChannelPush:
		return p.PushEnabled
	default:
		return false
	}
}

// Allows reports whether the user accepts the notification type on the
// channel at the given moment. Type overrides beat the global flag; quiet
// hours veto everything except in-app, which only lands in the inbox.
func (p NotificationPreference) Allows(channel outbounddomain.Channel, notificationType string, now time.Time) bool {
	allowed := p.channelEnabled(channel)

	if notificationType != "" && p.TypePreferences != nil {
		if raw, ok := p.TypePreferences[notificationType]; ok {
			if overrides, ok := raw.(map[string]any); ok {
				if v, ok := overrides[string(channel)].(bool); ok {
					allowed = v
				}
			}
		}
	}
	if !allowed {
		return false
	}

	if channel != outbounddomain.ChannelInApp && p.inQuietHours(now) {
		return false
	}
	return true
}

func (p NotificationPreference) inQuietHours(now time.Time) bool {
	start, okStart := parseClock(p.QuietHoursStart)
	end, okEnd := parseClock(p.QuietHoursEnd)
	if !okStart || !okEnd || start == end {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	// Window spans midnight.
	return minute >= start || minute < end
}

func parseClock(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
