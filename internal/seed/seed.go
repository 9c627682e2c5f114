package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/relaya/internal/config"
	creditdomain "github.com/smallbiznis/relaya/internal/credit/domain"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	templatedomain "github.com/smallbiznis/relaya/internal/template/domain"
	"gorm.io/gorm"
)

const signupBonusCredits = 100

// EnsureDefaults seeds the rows a fresh installation needs: the system
// default templates, a mock provider for dev environments and the signup
// bonus for the bootstrap tenant.
func EnsureDefaults(db *gorm.DB, cfg config.Config) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureSystemTemplates(ctx, tx, node); err != nil {
			return err
		}
		if cfg.IsDev() {
			if err := ensureMockProviders(ctx, tx, node); err != nil {
				return err
			}
		}
		if cfg.DefaultTenantID != 0 {
			if err := ensureSignupBonus(ctx, tx, node, snowflake.ID(cfg.DefaultTenantID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func systemTemplates() []templatedomain.NotificationTemplate {
	return []templatedomain.NotificationTemplate{
		{
			Code: "welcome",
			Name: "Welcome",

			SMSEnabled: true,
			SMSBody:    "Welcome {{name}}! Your account is ready.",

			EmailEnabled: true,
			EmailSubject: "Welcome to {{app_name}}",
			EmailBody:    "Hi {{name}},\n\nYour account is ready to use.",

			InAppEnabled: true,
			InAppBody:    "Welcome {{name}}!",
		},
		{
			Code: "otp",
			Name: "One-time passcode",

			SMSEnabled: true,
			SMSBody:    "Your verification code is {{code}}. It expires in {{minutes}} minutes.",
		},
		{
			Code: "low-balance",
			Name: "Low credit balance",

			EmailEnabled: true,
			EmailSubject: "Your credit balance is low",
			EmailBody:    "Hi {{name}},\n\nYour balance dropped to {{balance}} credits. Top up to keep sending.",

			InAppEnabled: true,
			InAppBody:    "Credit balance low: {{balance}} credits left.",
		},
	}
}

func ensureSystemTemplates(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	now := time.Now().UTC()
	for _, tpl := range systemTemplates() {
		var count int64
		err := tx.WithContext(ctx).
			Model(&templatedomain.NotificationTemplate{}).
			Where("tenant_id IS NULL AND code = ?", tpl.Code).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		tpl.ID = node.Generate()
		tpl.CreatedAt = now
		tpl.UpdatedAt = now
		if err := tx.WithContext(ctx).Create(&tpl).Error; err != nil {
			return err
		}
	}
	return nil
}

// ensureMockProviders wires every channel to the in-memory mock so a dev
// install sends without gateway credentials.
func ensureMockProviders(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	now := time.Now().UTC()
	for _, channel := range []outbounddomain.Channel{
		outbounddomain.ChannelSMS,
		outbounddomain.ChannelEmail,
		outbounddomain.ChannelPush,
	} {
		var count int64
		err := tx.WithContext(ctx).
			Model(&providerdomain.ProviderConfig{}).
			Where("tenant_id IS NULL AND channel = ?", channel).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		row := providerdomain.ProviderConfig{
			ID:        node.Generate(),
			Channel:   channel,
			Name:      "mock",
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// ensureSignupBonus grants the bootstrap tenant its starter credits once.
func ensureSignupBonus(ctx context.Context, tx *gorm.DB, node *snowflake.Node, tenantID snowflake.ID) error {
	var count int64
	err := tx.WithContext(ctx).
		Model(&creditdomain.CreditBalance{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	balance := creditdomain.CreditBalance{
		ID:        node.Generate(),
		TenantID:  tenantID,
		Balance:   signupBonusCredits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&balance).Error; err != nil {
		return err
	}

	actor := "system.seed"
	entry := creditdomain.CreditTransaction{
		ID:           node.Generate(),
		TenantID:     tenantID,
		Type:         creditdomain.TransactionTypeBonus,
		Amount:       signupBonusCredits,
		BalanceAfter: signupBonusCredits,
		Description:  "signup bonus",
		CreatedBy:    &actor,
		CreatedAt:    now,
	}
	return tx.WithContext(ctx).Create(&entry).Error
}
