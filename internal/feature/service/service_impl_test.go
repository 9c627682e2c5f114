package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	featuredomain "github.com/smallbiznis/relaya/internal/feature/domain"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq int

func newTestService(t *testing.T) (*Service, *snowflake.Node) {
	t.Helper()

	testDBSeq++
	dsn := fmt.Sprintf("file:feature_test_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&featuredomain.TenantFeature{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node}).(*Service)
	return svc, node
}

func TestDefaultsWithoutRows(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	tenant := node.Generate()

	ok, err := svc.HasFeature(ctx, tenant, featuredomain.FeatureChannelSMS)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasFeature(ctx, tenant, featuredomain.FeatureChannelInApp)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasFeature(ctx, tenant, featuredomain.FeatureChannelEmail)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.HasFeature(ctx, tenant, featuredomain.FeatureChannelPush)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExplicitRowOverridesDefault(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	tenant := node.Generate()

	require.NoError(t, svc.SetFeature(ctx, tenant, featuredomain.FeatureChannelEmail, true))
	require.NoError(t, svc.SetFeature(ctx, tenant, featuredomain.FeatureChannelSMS, false))

	ok, err := svc.HasFeature(ctx, tenant, featuredomain.FeatureChannelEmail)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasFeature(ctx, tenant, featuredomain.FeatureChannelSMS)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other tenants are untouched.
	ok, err = svc.HasFeature(ctx, node.Generate(), featuredomain.FeatureChannelEmail)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetFeatureUpsertsSingleRow(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	tenant := node.Generate()

	require.NoError(t, svc.SetFeature(ctx, tenant, featuredomain.FeatureChannelPush, true))
	require.NoError(t, svc.SetFeature(ctx, tenant, featuredomain.FeatureChannelPush, false))

	var count int64
	require.NoError(t, svc.db.Model(&featuredomain.TenantFeature{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	ok, err := svc.HasFeature(ctx, tenant, featuredomain.FeatureChannelPush)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChannelFeatureMapping(t *testing.T) {
	assert.Equal(t, featuredomain.FeatureChannelSMS, featuredomain.ChannelFeature(outbounddomain.ChannelSMS))
	assert.Equal(t, featuredomain.FeatureChannelEmail, featuredomain.ChannelFeature(outbounddomain.ChannelEmail))
	assert.Equal(t, featuredomain.FeatureChannelInApp, featuredomain.ChannelFeature(outbounddomain.ChannelInApp))
	assert.Equal(t, featuredomain.FeatureChannelPush, featuredomain.ChannelFeature(outbounddomain.ChannelPush))
	assert.Empty(t, featuredomain.ChannelFeature(outbounddomain.Channel("fax")))
}
