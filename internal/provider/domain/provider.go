package domain

import (
	"context"
	"errors"
)

var (
	// ErrProviderNotConfigured is returned when no active provider config
	// exists for the requested channel, neither tenant-scoped nor system-wide.
	ErrProviderNotConfigured = errors.New("provider_not_configured")
	// ErrUnknownProvider is returned by the factory for a config row naming
	// an adapter it does not know.
	ErrUnknownProvider = errors.New("unknown_provider")
	// ErrInvalidRequest marks a malformed send request, e.g. an empty
	// recipient list on a bulk send. Programmer error, never user-facing.
	ErrInvalidRequest = errors.New("invalid_send_request")
	// ErrNotSupported is returned for capabilities a gateway does not offer,
	// e.g. delivery reports over plain SMTP.
	ErrNotSupported = errors.New("capability_not_supported")
)

// ErrorCode is the shared taxonomy gateway-specific failures map into.
type ErrorCode string

const (
	// ErrorCodeAPIError covers network-level failures: timeouts, connection
	// refused, unparseable responses.
	ErrorCodeAPIError           ErrorCode = "API_ERROR"
	ErrorCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrorCodeInvalidHeader      ErrorCode = "INVALID_HEADER"
	ErrorCodeInvalidRecipient   ErrorCode = "INVALID_RECIPIENT"
	ErrorCodeMessageTooLong     ErrorCode = "MESSAGE_TOO_LONG"
	// ErrorCodeGatewayBalance means the account at the gateway itself is out
	// of funds. Unrelated to the tenant credit ledger.
	ErrorCodeGatewayBalance    ErrorCode = "GATEWAY_BALANCE"
	ErrorCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrorCodeNotAccepted       ErrorCode = "NOT_ACCEPTED"
)

// DeliveryStatus is the provider-side view of a message.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusRejected  DeliveryStatus = "rejected"
)

// SendRequest is one message for one recipient.
type SendRequest struct {
	Recipient string
	Body      string
	Subject   string
	HTMLBody  string
	SenderID  string
}

// BulkRequest is one body fanned out to many recipients.
type BulkRequest struct {
	Recipients []string
	Body       string
	SenderID   string
}

// SendResult is the structured outcome of a send or a delivery report.
// Gateway failures are data here, not errors; the error return of Send is
// reserved for misuse of the adapter itself.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	Status            DeliveryStatus
	ErrorCode         ErrorCode
	ErrorMessage      string
	CreditsUsed       int64
	RawResponse       string
}

// RecipientResult pairs one bulk recipient with its individual outcome.
type RecipientResult struct {
	Recipient string
	Result    SendResult
}

// BulkResult reports per-recipient outcome and the exact credits consumed,
// never an aggregate guess.
type BulkResult struct {
	BatchID     string
	Results     []RecipientResult
	CreditsUsed int64
	RawResponse string
}

// Accepted counts the recipients the gateway took.
func (r BulkResult) Accepted() int {
	n := 0
	for _, res := range r.Results {
		if res.Result.Success {
			n++
		}
	}
	return n
}

// BalanceInfo is the account standing at the gateway.
type BalanceInfo struct {
	Amount   float64
	Currency string
	Raw      string
}

// Provider is the capability contract every concrete gateway implements.
type Provider interface {
	// Name identifies the adapter, e.g. "netgsm".
	Name() string

	Send(ctx context.Context, req SendRequest) (*SendResult, error)
	SendBulk(ctx context.Context, req BulkRequest) (*BulkResult, error)

	// GetDeliveryReport resolves the current status of an accepted message
	// by the provider-assigned id.
	GetDeliveryReport(ctx context.Context, providerMessageID string) (*SendResult, error)

	// GetAccountBalance queries the gateway account standing.
	GetAccountBalance(ctx context.Context) (*BalanceInfo, error)
}
