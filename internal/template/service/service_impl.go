package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	templatedomain "github.com/smallbiznis/relaya/internal/template/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// placeholderPattern matches {{variable}} with optional inner whitespace.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

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

func NewService(p Params) templatedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("template.service"),
		genID: p.GenID,
	}
}

func (s *Service) Upsert(ctx context.Context, tpl *templatedomain.NotificationTemplate) error {
	code := slug.Make(tpl.Code)
	if code == "" {
		return templatedomain.ErrInvalidCode
	}
	tpl.Code = code
	if tpl.ID == 0 {
		tpl.ID = s.genID.Generate()
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name",
				"sms_enabled", "sms_body",
				"email_enabled", "email_subject", "email_body", "email_html_body",
				"in_app_enabled", "in_app_body",
				"push_enabled", "push_title", "push_body",
				"variables", "updated_at",
			}),
		}).
		Create(tpl).Error
}

func (s *Service) Resolve(ctx context.Context, tenantID snowflake.ID, code string) (*templatedomain.NotificationTemplate, error) {
	code = slug.Make(code)
	if code == "" {
		return nil, templatedomain.ErrInvalidCode
	}

	var tpl templatedomain.NotificationTemplate
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND code = ?", tenantID, code).
		Take(&tpl).Error
	if err == nil {
		return &tpl, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = s.db.WithContext(ctx).
		Where("tenant_id IS NULL AND code = ?", code).
		Take(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, templatedomain.ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *Service) Render(tpl *templatedomain.NotificationTemplate, channel outbounddomain.Channel, variables map[string]string) (*templatedomain.RenderedContent, error) {
	if tpl == nil {
		return nil, templatedomain.ErrTemplateNotFound
	}
	if !tpl.ChannelEnabled(channel) {
		return nil, templatedomain.ErrChannelDisabled
	}

	sub := func(text string) string { return s.substitute(tpl.Code, text, variables) }

	switch channel {
	case outbounddomain.ChannelSMS:
		return &templatedomain.RenderedContent{Body: sub(tpl.SMSBody)}, nil
	case outbounddomain.ChannelEmail:
		return &templatedomain.RenderedContent{
			Subject:  sub(tpl.EmailSubject),
			Body:     sub(tpl.EmailBody),
			HTMLBody: sub(tpl.EmailHTMLBody),
		}, nil
	case outbounddomain.ChannelInApp:
		return &templatedomain.RenderedContent{Body: sub(tpl.InAppBody)}, nil
	case outbounddomain.ChannelPush:
		return &templatedomain.RenderedContent{
			Title: sub(tpl.PushTitle),
			Body:  sub(tpl.PushBody),
		}, nil
	default:
		return nil, templatedomain.ErrChannelDisabled
	}
}

func (s *Service) List(ctx context.Context, tenantID snowflake.ID) ([]templatedomain.NotificationTemplate, error) {
	var rows []templatedomain.NotificationTemplate
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? OR (tenant_id IS NULL AND code NOT IN (?))",
			tenantID,
			s.db.Model(&templatedomain.NotificationTemplate{}).
				Select("code").
				Where("tenant_id = ?", tenantID),
		).
		Order("code ASC").
		Find(&rows).Error
	return rows, err
}

func (s *Service) Delete(ctx context.Context, tenantID snowflake.ID, code string) error {
	code = slug.Make(code)
	if code == "" {
		return templatedomain.ErrInvalidCode
	}

	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND code = ?", tenantID, code).
		Delete(&templatedomain.NotificationTemplate{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return templatedomain.ErrTemplateNotFound
	}
	return nil
}

// substitute replaces {{variable}} placeholders from the variables map.
// Unknown placeholders render as empty string; that keeps template and
// variable-name drift from breaking sends, at the cost of silently blank
// output, so each one is logged.
func (s *Service) substitute(code, text string, variables map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSpace(strings.Trim(match, "{}"))
		if value, ok := variables[name]; ok {
			return value
		}
		s.log.Warn("template placeholder has no value",
			zap.String("template_code", code),
			zap.String("placeholder", name),
		)
		return ""
	})
}
