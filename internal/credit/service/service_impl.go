package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/smallbiznis/relaya/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/relaya/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/relaya/pkg/db"
	"github.com/smallbiznis/relaya/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GetBalance(ctx context.Context, tenantID snowflake.ID) (int64, error) {
	if tenantID == 0 {
		return 0, creditdomain.ErrInvalidTenant
	}

	var balance creditdomain.CreditBalance
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance.Balance, nil
}

func (s *Service) HasSufficient(ctx context.Context, tenantID snowflake.ID, required int64) (bool, error) {
	balance, err := s.GetBalance(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return balance >= required, nil
}

func (s *Service) AddCredits(ctx context.Context, tenantID snowflake.ID, amount int64, ref creditdomain.GrantRef, actor, description string) (int64, error) {
	txType := creditdomain.TransactionTypeBonus
	if ref.PaymentID != nil || ref.PackageID != nil {
		txType = creditdomain.TransactionTypePurchase
	}
	return s.credit(ctx, tenantID, amount, txType, ref, actor, description, nil)
}

func (s *Service) Refund(ctx context.Context, tenantID snowflake.ID, amount int64, reason, actor string) (int64, error) {
	return s.credit(ctx, tenantID, amount, creditdomain.TransactionTypeRefund, creditdomain.GrantRef{}, actor, reason, nil)
}

func (s *Service) AdminAdjust(ctx context.Context, tenantID snowflake.ID, amount int64, actor, reason string) (int64, error) {
	if tenantID == 0 {
		return 0, creditdomain.ErrInvalidTenant
	}
	if amount == 0 {
		return 0, creditdomain.ErrInvalidAmount
	}

	var newBalance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.lockOrCreateBalance(ctx, tx, tenantID)
		if err != nil {
			return err
		}

		newBalance = balance.Balance + amount
		if newBalance < 0 {
			return &creditdomain.InsufficientCreditError{
				Required:  -amount,
				Available: balance.Balance,
			}
		}

		if err := s.writeBalance(ctx, tx, balance, newBalance); err != nil {
			return err
		}
		return s.appendTransaction(ctx, tx, &creditdomain.CreditTransaction{
			TenantID:     tenantID,
			Type:         creditdomain.TransactionTypeAdminAdjustment,
			Amount:       amount,
			BalanceAfter: newBalance,
			Description:  reason,
			CreatedBy:    optionalActor(actor),
		})
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (s *Service) DeductCredits(ctx context.Context, tenantID snowflake.ID, amount int64, actor, description string, metadata map[string]any) (int64, error) {
	if tenantID == 0 {
		return 0, creditdomain.ErrInvalidTenant
	}
	if amount <= 0 {
		return 0, creditdomain.ErrInvalidAmount
	}

	var newBalance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var balance creditdomain.CreditBalance
		err := lockForUpdate(tx.WithContext(ctx)).
			Where("tenant_id = ?", tenantID).
			Take(&balance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return creditdomain.ErrBalanceNotFound
		}
		if err != nil {
			return err
		}

		if amount > balance.Balance {
			return &creditdomain.InsufficientCreditError{
				Required:  amount,
				Available: balance.Balance,
			}
		}

		newBalance = balance.Balance - amount
		if err := s.writeBalance(ctx, tx, &balance, newBalance); err != nil {
			return err
		}
		return s.appendTransaction(ctx, tx, &creditdomain.CreditTransaction{
			TenantID:     tenantID,
			Type:         creditdomain.TransactionTypeUsage,
			Amount:       -amount,
			BalanceAfter: newBalance,
			Description:  description,
			CreatedBy:    optionalActor(actor),
			Metadata:     datatypes.JSONMap(metadata),
		})
	})
	if err != nil {
		return 0, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCreditsDebited(ctx, amount)
	}
	return newBalance, nil
}

func (s *Service) ListTransactions(ctx context.Context, tenantID snowflake.ID, page pagination.Pagination) ([]creditdomain.CreditTransaction, *pagination.PageInfo, error) {
	if tenantID == 0 {
		return nil, nil, creditdomain.ErrInvalidTenant
	}

	limit := page.PageSize
	if limit <= 0 {
		limit = 10
	}

	stmt := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, err
		}
		stmt = stmt.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []*creditdomain.CreditTransaction
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	info := pagination.BuildCursorPageInfo(rows, limit, func(tx *creditdomain.CreditTransaction) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        tx.ID.String(),
			CreatedAt: tx.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})

	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]creditdomain.CreditTransaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, info, nil
}

func (s *Service) VerifyChain(ctx context.Context, tenantID snowflake.ID) error {
	if tenantID == 0 {
		return creditdomain.ErrInvalidTenant
	}

	var rows []creditdomain.CreditTransaction
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return err
	}

	var running int64
	for _, row := range rows {
		running += row.Amount
		if row.BalanceAfter != running {
			s.log.Error("ledger chain mismatch",
				zap.String("tenant_id", tenantID.String()),
				zap.String("transaction_id", row.ID.String()),
				zap.Int64("expected", running),
				zap.Int64("recorded", row.BalanceAfter),
			)
			return creditdomain.ErrChainBroken
		}
	}

	balance, err := s.GetBalance(ctx, tenantID)
	if err != nil {
		return err
	}
	if balance != running {
		return creditdomain.ErrChainBroken
	}
	return nil
}

func (s *Service) credit(ctx context.Context, tenantID snowflake.ID, amount int64, txType creditdomain.CreditTransactionType, ref creditdomain.GrantRef, actor, description string, metadata map[string]any) (int64, error) {
	if tenantID == 0 {
		return 0, creditdomain.ErrInvalidTenant
	}
	if amount <= 0 {
		return 0, creditdomain.ErrInvalidAmount
	}

	var newBalance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.lockOrCreateBalance(ctx, tx, tenantID)
		if err != nil {
			return err
		}

		newBalance = balance.Balance + amount
		if err := s.writeBalance(ctx, tx, balance, newBalance); err != nil {
			return err
		}
		return s.appendTransaction(ctx, tx, &creditdomain.CreditTransaction{
			TenantID:     tenantID,
			Type:         txType,
			Amount:       amount,
			BalanceAfter: newBalance,
			PaymentID:    ref.PaymentID,
			PackageID:    ref.PackageID,
			Description:  description,
			CreatedBy:    optionalActor(actor),
			Metadata:     datatypes.JSONMap(metadata),
		})
	})
	if err != nil {
		return 0, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCreditsGranted(ctx, amount, string(txType))
	}
	return newBalance, nil
}

// lockOrCreateBalance locks the tenant balance row for the rest of the
// transaction, creating it lazily on first credit.
func (s *Service) lockOrCreateBalance(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*creditdomain.CreditBalance, error) {
	var balance creditdomain.CreditBalance
	err := lockForUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ?", tenantID).
		Take(&balance).Error
	if err == nil {
		return &balance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	fresh := creditdomain.CreditBalance{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Balance:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&fresh).Error; err != nil {
		// A concurrent caller created the row first; lock theirs instead.
		if pkgdb.IsDuplicateKeyErr(err) {
			if err := lockForUpdate(tx.WithContext(ctx)).
				Where("tenant_id = ?", tenantID).
				Take(&balance).Error; err != nil {
				return nil, err
			}
			return &balance, nil
		}
		return nil, err
	}
	return &fresh, nil
}

func (s *Service) writeBalance(ctx context.Context, tx *gorm.DB, balance *creditdomain.CreditBalance, newBalance int64) error {
	if newBalance < 0 {
		// The lock should make this unreachable; abort rather than persist
		// a negative balance.
		return creditdomain.ErrInsufficientCredit
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE credit_balances SET balance = ?, updated_at = ? WHERE id = ?`,
		newBalance,
		time.Now().UTC(),
		balance.ID,
	).Error
}

func (s *Service) appendTransaction(ctx context.Context, tx *gorm.DB, row *creditdomain.CreditTransaction) error {
	row.ID = s.genID.Generate()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return tx.WithContext(ctx).Create(row).Error
}

// lockForUpdate applies a pessimistic row lock on dialects that support it.
// SQLite serializes writers on its own and rejects FOR UPDATE.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func optionalActor(actor string) *string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil
	}
	return &actor
}
