package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/relaya/pkg/db/pagination"
)

var (
	// ErrInvalidAmount marks a non-positive amount on a ledger call. It is a
	// programmer error, never user-facing.
	ErrInvalidAmount = errors.New("invalid_amount")
	// ErrInsufficientCredit is returned when a debit exceeds the balance.
	ErrInsufficientCredit = errors.New("insufficient_credit")
	// ErrBalanceNotFound is returned when debiting a tenant that was never
	// credited.
	ErrBalanceNotFound = errors.New("balance_not_found")
	// ErrInvalidTenant marks a zero tenant id.
	ErrInvalidTenant = errors.New("invalid_tenant")
	// ErrChainBroken reports a balance_after chain that does not add up.
	ErrChainBroken = errors.New("transaction_chain_broken")
)

// GrantRef optionally ties a credit grant to the payment and package that
// produced it.
type GrantRef struct {
	PaymentID *snowflake.ID
	PackageID *snowflake.ID
}

// InsufficientCreditError carries the amounts the caller needs to surface.
type InsufficientCreditError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditError) Error() string { return ErrInsufficientCredit.Error() }

// Unwrap lets errors.Is match ErrInsufficientCredit.
func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// Service is the prepaid credit ledger. Mutations for one tenant are
// serialized against each other; tenants never serialize across each other.
type Service interface {
	// GetBalance returns the current balance, zero when the tenant has no
	// balance row yet.
	GetBalance(ctx context.Context, tenantID snowflake.ID) (int64, error)

	// HasSufficient reports whether the balance covers the required amount.
	HasSufficient(ctx context.Context, tenantID snowflake.ID, required int64) (bool, error)

	// AddCredits increments the balance, creating the row when absent, and
	// appends a purchase transaction when ref carries a payment or package,
	// a bonus transaction otherwise.
	AddCredits(ctx context.Context, tenantID snowflake.ID, amount int64, ref GrantRef, actor, description string) (int64, error)

	// DeductCredits decrements the balance atomically and appends a usage
	// transaction with the negated amount.
	DeductCredits(ctx context.Context, tenantID snowflake.ID, amount int64, actor, description string, metadata map[string]any) (int64, error)

	// Refund returns credits to the tenant with a refund-tagged transaction.
	Refund(ctx context.Context, tenantID snowflake.ID, amount int64, reason, actor string) (int64, error)

	// AdminAdjust applies a signed manual correction. The balance still may
	// not go negative.
	AdminAdjust(ctx context.Context, tenantID snowflake.ID, amount int64, actor, reason string) (int64, error)

	// ListTransactions pages the tenant ledger newest first.
	ListTransactions(ctx context.Context, tenantID snowflake.ID, page pagination.Pagination) ([]CreditTransaction, *pagination.PageInfo, error)

	// VerifyChain replays the tenant ledger and checks the balance_after
	// chain and the stored balance agree.
	VerifyChain(ctx context.Context, tenantID snowflake.ID) error
}
