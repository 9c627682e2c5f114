package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/relaya/pkg/db/pagination"
)

var (
	// ErrMessageNotFound is returned for lookups that match no row within the
	// tenant scope.
	ErrMessageNotFound = errors.New("outbound_message_not_found")
	// ErrInvalidTransition rejects a status change the lifecycle does not
	// allow, e.g. delivering a message that was never sent.
	ErrInvalidTransition = errors.New("invalid_status_transition")
	// ErrRetryExhausted is returned when requeueing a message whose retry
	// budget is spent or whose status is not failed.
	ErrRetryExhausted = errors.New("retry_exhausted")
)

// SendOutcome is what the provider call produced, recorded verbatim on the
// delivery log row.
type SendOutcome struct {
	ProviderName      string
	ProviderMessageID string
	ProviderResponse  string
	CreditsUsed       int64
	ErrorCode         string
	ErrorMessage      string
}

// ListFilter narrows ListByTenant.
type ListFilter struct {
	Channel Channel
	Status  Status
}

// Service is the outbound delivery log. It owns every status transition so
// callers cannot skip lifecycle states.
type Service interface {
	// CreatePending persists the row before any network call is made.
	CreatePending(ctx context.Context, msg *OutboundMessage) error

	// Get returns a message scoped to the tenant.
	Get(ctx context.Context, tenantID, id snowflake.ID) (*OutboundMessage, error)

	// FindByProviderMessageID correlates a delivery report with its row.
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*OutboundMessage, error)

	// MarkSent moves pending -> sent and records the provider outcome.
	MarkSent(ctx context.Context, id snowflake.ID, outcome SendOutcome, sentAt time.Time) error

	// MarkFailed moves pending -> failed and records the provider outcome.
	// Credits are never recorded on a failed row.
	MarkFailed(ctx context.Context, id snowflake.ID, outcome SendOutcome) error

	// MarkRejected moves the row to the terminal rejected state on an
	// explicit provider rejection signal.
	MarkRejected(ctx context.Context, id snowflake.ID, outcome SendOutcome) error

	// MarkInvalid records a recipient-validation failure for audit. The row
	// never reaches a provider.
	MarkInvalid(ctx context.Context, id snowflake.ID, reason string) error

	// MarkDelivered moves sent -> delivered from a delivery report.
	MarkDelivered(ctx context.Context, id snowflake.ID, deliveredAt time.Time) error

	// RequeueForRetry moves failed -> pending and increments retry_count.
	// Fails with ErrRetryExhausted when CanRetry is false.
	RequeueForRetry(ctx context.Context, id snowflake.ID) (*OutboundMessage, error)

	// ListByTenant pages a tenant's delivery log newest first.
	ListByTenant(ctx context.Context, tenantID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]OutboundMessage, *pagination.PageInfo, error)

	// ListRetryable returns failed messages with retry budget left, oldest
	// first, for the retry scheduler.
	ListRetryable(ctx context.Context, limit int) ([]OutboundMessage, error)

	// ListAwaitingReport returns sent rows that carry a provider message id,
	// for the delivery-report poller.
	ListAwaitingReport(ctx context.Context, limit int) ([]OutboundMessage, error)
}
