package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Channel is a delivery medium with its own recipient format, provider and
// feature gate.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
)

// Valid reports whether the channel is one of the known delivery media.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelInApp, ChannelPush:
		return true
	default:
		return false
	}
}

// Status is the outbound message lifecycle state.
//
//	pending -[send success]-> sent -[delivery report]-> delivered
//	pending -[send failure]-> failed -[retry]-> pending
//	rejected is terminal and only reached via an explicit provider signal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
	// StatusInvalid marks audit rows for sends that never left the building
	// because recipient validation failed.
	StatusInvalid Status = "invalid"
)

// OutboundMessage records one send attempt, independent of which channel
// carried it.
type OutboundMessage struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"not null;index:idx_outbound_tenant_status_time,priority:1"`
	Channel  Channel      `gorm:"type:text;not null"`

	Recipient string `gorm:"type:text;not null"`
	Subject   string `gorm:"type:text"`
	Content   string `gorm:"type:text"`
	HTMLBody  string `gorm:"type:text"`

	// NotificationType keys preference overrides, e.g. "billing_alert".
	NotificationType string `gorm:"type:text"`
	// TemplateID weakly references the originating template, id only.
	TemplateID *snowflake.ID

	Status Status `gorm:"type:text;not null;index:idx_outbound_tenant_status_time,priority:2"`

	ProviderName      string `gorm:"type:text"`
	ProviderMessageID string `gorm:"type:text;index:idx_outbound_provider_message_id"`
	ProviderResponse  string `gorm:"type:text"`

	CreditsUsed  int64  `gorm:"not null;default:0"`
	ErrorCode    string `gorm:"type:text"`
	ErrorMessage string `gorm:"type:text"`

	RetryCount int `gorm:"not null;default:0"`
	MaxRetries int `gorm:"not null;default:0"`

	ScheduledAt *time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_outbound_tenant_status_time,priority:3"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OutboundMessage) TableName() string { return "outbound_messages" }

// CanRetry is true only for failed messages with retry budget left.
func (m OutboundMessage) CanRetry() bool {
	return m.Status == StatusFailed && m.RetryCount < m.MaxRetries
}
