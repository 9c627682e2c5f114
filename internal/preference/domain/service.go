package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
)

// Service owns user notification preferences. It may veto a send but has
// no bearing on the credit ledger.
type Service interface {
	// Get returns the user's preferences, or the permissive default when no
	// row exists.
	Get(ctx context.Context, tenantID, userID snowflake.ID) (*NotificationPreference, error)

	// Upsert creates or replaces the user's preference row.
	Upsert(ctx context.Context, pref *NotificationPreference) error

	// Allows reports whether the user accepts the notification type on the
	// channel right now.
	Allows(ctx context.Context, tenantID, userID snowflake.ID, channel outbounddomain.Channel, notificationType string, now time.Time) (bool, error)
}
