package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	preferencedomain "github.com/smallbiznis/relaya/internal/preference/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) preferencedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("preference.service"),
		genID: p.GenID,
	}
}

func (s *Service) Get(ctx context.Context, tenantID, userID snowflake.ID) (*preferencedomain.NotificationPreference, error) {
	var pref preferencedomain.NotificationPreference
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Take(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultPreference(tenantID, userID), nil
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

func (s *Service) Upsert(ctx context.Context, pref *preferencedomain.NotificationPreference) error {
	if pref.ID == 0 {
		pref.ID = s.genID.Generate()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"email_enabled", "sms_enabled", "in_app_enabled", "push_enabled",
				"type_preferences", "quiet_hours_start", "quiet_hours_end",
				"updated_at",
			}),
		}).
		Create(pref).Error
}

func (s *Service) Allows(ctx context.Context, tenantID, userID snowflake.ID, channel outbounddomain.Channel, notificationType string, now time.Time) (bool, error) {
	pref, err := s.Get(ctx, tenantID, userID)
	if err != nil {
		return false, err
	}
	return pref.Allows(channel, notificationType, now), nil
}

// defaultPreference is the permissive everything-on state for users with no
// stored row.
func defaultPreference(tenantID, userID snowflake.ID) *preferencedomain.NotificationPreference {
	return &preferencedomain.NotificationPreference{
		TenantID:     tenantID,
		UserID:       userID,
		EmailEnabled: true,
		SMSEnabled:   true,
		InAppEnabled: true,
		PushEnabled:  true,
	}
}
