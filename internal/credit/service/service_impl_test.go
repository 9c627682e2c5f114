package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	creditdomain "github.com/smallbiznis/relaya/internal/credit/domain"
	"github.com/smallbiznis/relaya/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq int

func newTestService(t *testing.T) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	testDBSeq++
	dsn := fmt.Sprintf("file:credit_test_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// A single connection keeps concurrent callers serialized the way the
	// row lock does on postgres.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&creditdomain.CreditBalance{},
		&creditdomain.CreditTransaction{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	}).(*Service)
	return svc, db, node
}

func TestAddThenDeductRoundtrip(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	tenant := node.Generate()

	newBal, err := svc.AddCredits(ctx, tenant, 100, creditdomain.GrantRef{}, "", "signup bonus")
	require.NoError(t, err)
	assert.Equal(t, int64(100), newBal)

	newBal, err = svc.DeductCredits(ctx, tenant, 30, "", "sms send", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(70), newBal)

	balance, err := svc.GetBalance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)

	var rows []creditdomain.CreditTransaction
	require.NoError(t, db.Where("tenant_id = ?", tenant).Order("created_at ASC, id ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, creditdomain.TransactionTypeBonus, rows[0].Type)
	assert.Equal(t, int64(100), rows[0].BalanceAfter)
	assert.Equal(t, creditdomain.TransactionTypeUsage, rows[1].Type)
	assert.Equal(t, int64(-30), rows[1].Amount)
	assert.Equal(t, int64(70), rows[1].BalanceAfter)

	assert.NoError(t, svc.VerifyChain(ctx, tenant))
}

func TestGetBalanceLazyZero(t *testing.T) {
	svc, _, node := newTestService(t)

	balance, err := svc.GetBalance(context.Background(), node.Generate())
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestDeductInsufficientLeavesBalanceUntouched(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	tenant := node.Generate()

	_, err := svc.AddCredits(ctx, tenant, 3, creditdomain.GrantRef{}, "", "bonus")
	require.NoError(t, err)

	_, err = svc.DeductCredits(ctx, tenant, 5, "", "sms send", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredit)

	var insufficient *creditdomain.InsufficientCreditError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(5), insufficient.Required)
	assert.Equal(t, int64(3), insufficient.Available)

	balance, err := svc.GetBalance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)
}

func TestDeductWithoutBalanceRow(t *testing.T) {
	svc, _, node := newTestService(t)

	_, err := svc.DeductCredits(context.Background(), node.Generate(), 1, "", "sms send", nil)
	assert.ErrorIs(t, err, creditdomain.ErrBalanceNotFound)
}

func TestInvalidAmounts(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	tenant := node.Generate()

	_, err := svc.AddCredits(ctx, tenant, 0, creditdomain.GrantRef{}, "", "")
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

	_, err = svc.AddCredits(ctx, tenant, -5, creditdomain.GrantRef{}, "", "")
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

	_, err = svc.DeductCredits(ctx, tenant, 0, "", "", nil)
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

	_, err = svc.Refund(ctx, tenant, -1, "", "")
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
}

func TestPurchaseVersusBonusTagging(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	tenant := node.Generate()
	paymentID := node.Generate()

	_, err := svc.AddCredits(ctx, tenant, 50, creditdomain.GrantRef{PaymentID: &paymentID}, "billing", "package purchase")
	require.NoError(t, err)

	_, err = svc.AddCredits(ctx, tenant, 10, creditdomain.GrantRef{}, "", "signup bonus")
	require.NoError(t, err)

	var rows []creditdomain.CreditTransaction
	require.NoError(t, db.Where("tenant_id = ?", tenant).Order("created_at ASC, id ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, creditdomain.TransactionTypePurchase, rows[0].Type)
	require.NotNil(t, rows[0].PaymentID)
	assert.Equal(t, paymentID, *rows[0].PaymentID)
	assert.Equal(t, creditdomain.TransactionTypeBonus, rows[1].Type)
}

func TestRefundAndAdminAdjust(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	tenant := node.Generate()

	_, err := svc.AddCredits(ctx, tenant, 20, creditdomain.GrantRef{}, "", "bonus")
	require.NoError(t, err)

	newBal, err := svc.Refund(ctx, tenant, 5, "failed send", "system")
	require.NoError(t, err)
	assert.Equal(t, int64(25), newBal)

	newBal, err = svc.AdminAdjust(ctx, tenant, -10, "ops", "duplicate grant correction")
	require.NoError(t, err)
	assert.Equal(t, int64(15), newBal)

	_, err = svc.AdminAdjust(ctx, tenant, -100, "ops", "too much")
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredit)

	assert.NoError(t, svc.VerifyChain(ctx, tenant))
}

func TestConcurrentDeductsNeverGoNegative(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	tenant := node.Generate()

	_, err := svc.AddCredits(ctx, tenant, 100, creditdomain.GrantRef{}, "", "bonus")
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.DeductCredits(ctx, tenant, 10, "", "concurrent send", nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredit)
		}
	}
	assert.Equal(t, 10, succeeded)

	balance, err := svc.GetBalance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
	assert.NoError(t, svc.VerifyChain(ctx, tenant))
}

func TestVerifyChainDetectsCorruption(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	tenant := node.Generate()

	_, err := svc.AddCredits(ctx, tenant, 10, creditdomain.GrantRef{}, "", "bonus")
	require.NoError(t, err)

	require.NoError(t, db.Exec(
		`UPDATE credit_transactions SET balance_after = 999 WHERE tenant_id = ?`, tenant,
	).Error)

	assert.ErrorIs(t, svc.VerifyChain(ctx, tenant), creditdomain.ErrChainBroken)
}

func TestListTransactionsPagination(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	tenant := node.Generate()

	for i := 0; i < 5; i++ {
		_, err := svc.AddCredits(ctx, tenant, 10, creditdomain.GrantRef{}, "", "bonus")
		require.NoError(t, err)
	}

	rows, info, err := svc.ListTransactions(ctx, tenant, pagination.Pagination{PageSize: 3})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	require.NotNil(t, info)
	assert.True(t, info.HasMore)
	assert.NotEmpty(t, info.NextPageToken)

	// Newest first: the last grant has the highest balance_after.
	assert.Equal(t, int64(50), rows[0].BalanceAfter)
}
