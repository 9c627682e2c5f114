package registry

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/relaya/internal/config"
	obsmetrics "github.com/smallbiznis/relaya/internal/observability/metrics"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	"github.com/smallbiznis/relaya/internal/provider/mailrest"
	"github.com/smallbiznis/relaya/internal/provider/mock"
	"github.com/smallbiznis/relaya/internal/provider/netgsm"
	"github.com/smallbiznis/relaya/internal/provider/smtpmail"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Registry resolves the active provider for a tenant and channel from
// provider_configs and constructs the adapter with its credentials injected
// at build time. Adapter selection is runtime data, not a compile-time
// choice.
type Registry struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	obsMetrics *obsmetrics.Metrics

	// mockInstance is shared across resolutions so test assertions see
	// every send routed through the "mock" config.
	mockInstance *mock.Provider
}

func New(p Params) *Registry {
	return &Registry{
		db:           p.DB,
		log:          p.Log.Named("provider.registry"),
		cfg:          p.Config,
		obsMetrics:   p.ObsMetrics,
		mockInstance: mock.New(),
	}
}

// Mock exposes the shared mock adapter for test assertions.
func (r *Registry) Mock() *mock.Provider { return r.mockInstance }

// Resolve returns the provider serving the channel for the tenant. A
// tenant-scoped active config wins over the system default (null tenant).
// When no row exists the adapter is built from application config, except
// for push which has no ambient fallback.
func (r *Registry) Resolve(ctx context.Context, tenantID snowflake.ID, channel outbounddomain.Channel) (providerdomain.Provider, error) {
	row, err := r.activeConfig(ctx, tenantID, channel)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return r.build(row.Name, func(key, fallback string) string {
			if v := row.CredentialString(key); v != "" {
				return v
			}
			return fallback
		})
	}

	switch channel {
	case outbounddomain.ChannelSMS:
		return r.build(r.cfg.SMS.Provider, func(_, fallback string) string { return fallback })
	case outbounddomain.ChannelEmail:
		return r.build(r.cfg.Mail.Provider, func(_, fallback string) string { return fallback })
	default:
		return nil, providerdomain.ErrProviderNotConfigured
	}
}

func (r *Registry) activeConfig(ctx context.Context, tenantID snowflake.ID, channel outbounddomain.Channel) (*providerdomain.ProviderConfig, error) {
	var row providerdomain.ProviderConfig
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND channel = ? AND active = ?", tenantID, channel, true).
		Take(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Where("tenant_id IS NULL AND channel = ? AND active = ?", channel, true).
		Take(&row).Error
	if err == nil {
		return &row, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// build constructs the named adapter. cred reads a credential with an
// application-config fallback.
func (r *Registry) build(name string, cred func(key, fallback string) string) (providerdomain.Provider, error) {
	switch name {
	case "netgsm":
		return netgsm.New(netgsm.Config{
			BaseURL:  cred("base_url", r.cfg.SMS.BaseURL),
			UserCode: cred("usercode", r.cfg.SMS.UserCode),
			Password: cred("password", r.cfg.SMS.Password),
			Header:   cred("header", r.cfg.SMS.Header),
			Language: cred("language", r.cfg.SMS.Language),
		}, r.log, r.obsMetrics), nil
	case "smtp":
		return smtpmail.New(smtpmail.Config{
			Host:     cred("host", r.cfg.Mail.SMTPHost),
			Port:     r.cfg.Mail.SMTPPort,
			Username: cred("username", r.cfg.Mail.SMTPUsername),
			Password: cred("password", r.cfg.Mail.SMTPPassword),
			From:     cred("from", r.cfg.Mail.SMTPFrom),
		}, r.log), nil
	case "mailrest":
		return mailrest.New(mailrest.Config{
			BaseURL: cred("base_url", r.cfg.Mail.RESTBaseURL),
			APIKey:  cred("api_key", r.cfg.Mail.RESTAPIKey),
			From:    cred("from", r.cfg.Mail.RESTFrom),
		}, r.log), nil
	case "mock":
		return r.mockInstance, nil
	case "":
		return nil, providerdomain.ErrProviderNotConfigured
	default:
		r.log.Error("provider config names an unknown adapter", zap.String("name", name))
		return nil, providerdomain.ErrUnknownProvider
	}
}
