package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
)

var (
	// ErrInvalidChannel rejects a channel outside sms/email/in_app/push.
	ErrInvalidChannel = errors.New("invalid_channel")
	// ErrInvalidRecipient rejects a recipient whose shape does not fit the
	// channel, before any ledger or network activity.
	ErrInvalidRecipient = errors.New("invalid_recipient")
	// ErrFeatureNotEnabled means the tenant's plan does not include the
	// channel.
	ErrFeatureNotEnabled = errors.New("feature_not_enabled")
	// ErrRecipientOptedOut means the user's preferences veto the send.
	ErrRecipientOptedOut = errors.New("recipient_opted_out")
	// ErrRateLimited means the tenant exhausted its per-minute send budget.
	ErrRateLimited = errors.New("rate_limited")
	// ErrEmptyContent rejects a dispatch with neither template nor body.
	ErrEmptyContent = errors.New("empty_content")
)

// DispatchRequest describes one send. Content comes either from a template
// (TemplateCode plus Variables) or directly from Subject/Body/HTMLBody.
type DispatchRequest struct {
	TenantID snowflake.ID
	// UserID identifies the recipient for preference checks and the in-app
	// inbox. Zero skips the preference check.
	UserID  snowflake.ID
	Channel outbounddomain.Channel

	Recipient string

	TemplateCode string
	Variables    map[string]string

	Subject  string
	Body     string
	HTMLBody string

	NotificationType string
	SenderID         string
	Actor            string
}

// DispatchResult is the uniform outcome for every channel.
type DispatchResult struct {
	Success           bool
	OutboundID        snowflake.ID
	ProviderMessageID string
	Status            outbounddomain.Status
	CreditsUsed       int64
	ErrorCode         string
	ErrorMessage      string
}

// BulkDispatchRequest fans one SMS body out to many recipients.
type BulkDispatchRequest struct {
	TenantID snowflake.ID

	Recipients []string

	TemplateCode string
	Variables    map[string]string
	Body         string

	NotificationType string
	SenderID         string
	Actor            string
}

// BulkDispatchResult reports per-recipient outcome and the exact credits
// consumed.
type BulkDispatchResult struct {
	Results     []DispatchResult
	CreditsUsed int64
}

// Service routes a logical channel to the right provider and enforces the
// per-channel preconditions in order: recipient shape, credit cover,
// feature gate, rate limit, recipient preferences.
type Service interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error)

	// DispatchBulk sends one SMS body to many recipients, debiting credits
	// only for the recipients the gateway accepted.
	DispatchBulk(ctx context.Context, req BulkDispatchRequest) (*BulkDispatchResult, error)

	// Retry re-dispatches a failed message. Every precondition is checked
	// again; time has passed since the original attempt.
	Retry(ctx context.Context, tenantID, messageID snowflake.ID) (*DispatchResult, error)
}
