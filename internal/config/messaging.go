package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// MessagingConfig is the operator-tunable send policy. It is hot-reloaded
// from messaging.yml so limits can be adjusted without a restart.
type MessagingConfig struct {
	DefaultSenderID    string        `mapstructure:"defaultSenderId"`
	DefaultLanguage    string        `mapstructure:"defaultLanguage"`
	MaxRetries         int           `mapstructure:"maxRetries"`
	SendTimeout        time.Duration `mapstructure:"sendTimeout"`
	TenantRatePerMin   int           `mapstructure:"tenantRatePerMin"`
	ReportPollInterval time.Duration `mapstructure:"reportPollInterval"`
	RetryInterval      time.Duration `mapstructure:"retryInterval"`
	ReportBatchSize    int           `mapstructure:"reportBatchSize"`
	RetryBatchSize     int           `mapstructure:"retryBatchSize"`
}

func DefaultMessagingConfig() MessagingConfig {
	return MessagingConfig{
		DefaultSenderID:    "RELAYA",
		DefaultLanguage:    "TR",
		MaxRetries:         3,
		SendTimeout:        30 * time.Second,
		TenantRatePerMin:   600,
		ReportPollInterval: time.Minute,
		RetryInterval:      2 * time.Minute,
		ReportBatchSize:    100,
		RetryBatchSize:     50,
	}
}

type MessagingConfigHolder struct {
	current atomic.Value // holds MessagingConfig
}

func NewMessagingConfigHolder() (*MessagingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("messaging")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/relaya/config") // Volume-mounted config
	v.AddConfigPath("/etc/relaya")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("RELAYA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultMessagingConfig()
		v.SetDefault("messaging.defaultSenderId", defaults.DefaultSenderID)
		v.SetDefault("messaging.defaultLanguage", defaults.DefaultLanguage)
		v.SetDefault("messaging.maxRetries", defaults.MaxRetries)
		v.SetDefault("messaging.sendTimeout", defaults.SendTimeout)
		v.SetDefault("messaging.tenantRatePerMin", defaults.TenantRatePerMin)
		v.SetDefault("messaging.reportPollInterval", defaults.ReportPollInterval)
		v.SetDefault("messaging.retryInterval", defaults.RetryInterval)
		v.SetDefault("messaging.reportBatchSize", defaults.ReportBatchSize)
		v.SetDefault("messaging.retryBatchSize", defaults.RetryBatchSize)
	}

	var cfg MessagingConfig
	if err := v.UnmarshalKey("messaging", &cfg); err != nil {
		return nil, err
	}
	if err := validateMessagingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &MessagingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MessagingConfig
		if err := v.UnmarshalKey("messaging", &updated); err != nil {
			log.Printf("[messaging-config] reload failed: %v", err)
			return
		}
		if err := validateMessagingConfig(updated); err != nil {
			log.Printf("[messaging-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[messaging-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticMessagingConfigHolder wraps a fixed config with no file watch,
// for tests and embedded use.
func NewStaticMessagingConfigHolder(cfg MessagingConfig) *MessagingConfigHolder {
	holder := &MessagingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *MessagingConfigHolder) Get() MessagingConfig {
	return h.current.Load().(MessagingConfig)
}

func validateMessagingConfig(cfg MessagingConfig) error {
	if cfg.MaxRetries < 0 {
		return errors.New("messaging.maxRetries cannot be negative")
	}
	if cfg.SendTimeout <= 0 {
		return errors.New("messaging.sendTimeout must be positive")
	}
	if cfg.TenantRatePerMin < 0 {
		return errors.New("messaging.tenantRatePerMin cannot be negative")
	}
	return nil
}
