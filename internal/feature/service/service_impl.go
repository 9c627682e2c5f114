package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	featuredomain "github.com/smallbiznis/relaya/internal/feature/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cacheTTL is short on purpose: plan changes should take effect within
// seconds without an explicit invalidation fan-out.
const cacheTTL = 30 * time.Second

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Redis *redis.Client `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	redis *redis.Client
}

func NewService(p Params) featuredomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("feature.service"),
		genID: p.GenID,
		redis: p.Redis,
	}
}

func (s *Service) HasFeature(ctx context.Context, tenantID snowflake.ID, code string) (bool, error) {
	if code == "" {
		return false, nil
	}

	key := cacheKey(tenantID, code)
	if cached, ok := s.cacheGet(ctx, key); ok {
		return cached, nil
	}

	var row featuredomain.TenantFeature
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND code = ?", tenantID, code).
		Take(&row).Error
	enabled := featuredomain.DefaultEnabled(code)
	switch {
	case err == nil:
		enabled = row.Enabled
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return false, err
	}

	s.cacheSet(ctx, key, enabled)
	return enabled, nil
}

func (s *Service) SetFeature(ctx context.Context, tenantID snowflake.ID, code string, enabled bool) error {
	row := featuredomain.TenantFeature{
		ID:       s.genID.Generate(),
		TenantID: tenantID,
		Code:     code,
		Enabled:  enabled,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return err
	}

	if s.redis != nil {
		if err := s.redis.Del(ctx, cacheKey(tenantID, code)).Err(); err != nil {
			s.log.Warn("feature cache invalidation failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) cacheGet(ctx context.Context, key string) (bool, bool) {
	if s.redis == nil {
		return false, false
	}
	val, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("feature cache read failed", zap.Error(err))
		}
		return false, false
	}
	return val == "1", true
}

func (s *Service) cacheSet(ctx context.Context, key string, enabled bool) {
	if s.redis == nil {
		return
	}
	val := "0"
	if enabled {
		val = "1"
	}
	if err := s.redis.Set(ctx, key, val, cacheTTL).Err(); err != nil {
		s.log.Warn("feature cache write failed", zap.Error(err))
	}
}

func cacheKey(tenantID snowflake.ID, code string) string {
	return fmt.Sprintf("feature:%s:%s", tenantID, code)
}
