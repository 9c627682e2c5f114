package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CreditTransactionType tags every ledger entry with its economic cause.
type CreditTransactionType string

const (
	TransactionTypePurchase        CreditTransactionType = "purchase"
	TransactionTypeUsage           CreditTransactionType = "usage"
	TransactionTypeRefund          CreditTransactionType = "refund"
	TransactionTypeAdminAdjustment CreditTransactionType = "admin_adjustment"
	TransactionTypeBonus           CreditTransactionType = "bonus"
)

// CreditBalance is the single mutable row per tenant. Every mutation is
// paired with exactly one CreditTransaction and the balance never goes
// negative.
type CreditBalance struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	TenantID  snowflake.ID `gorm:"not null;uniqueIndex:ux_credit_balances_tenant"`
	Balance   int64        `gorm:"not null;default:0"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }

// CreditTransaction is the append-only ledger. Rows are never mutated or
// deleted; refunds and adjustments are new rows. BalanceAfter values form a
// verifiable chain: each equals the previous BalanceAfter plus Amount.
type CreditTransaction struct {
	ID           snowflake.ID          `gorm:"primaryKey"`
	TenantID     snowflake.ID          `gorm:"not null;index:idx_credit_transactions_tenant_time,priority:1"`
	Type         CreditTransactionType `gorm:"type:text;not null"`
	Amount       int64                 `gorm:"not null"` // positive=credit, negative=debit
	BalanceAfter int64                 `gorm:"not null"`
	PaymentID    *snowflake.ID         `gorm:"index"`
	PackageID    *snowflake.ID
	Description  string            `gorm:"type:text"`
	CreatedBy    *string           `gorm:"type:text"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_credit_transactions_tenant_time,priority:2"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }
