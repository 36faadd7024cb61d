package config

import (
	"errors"
	"fmt"
	"time"

	"sendgate/internal/jobqueue"
	"sendgate/internal/provider"
	"sendgate/internal/service/dispatch"
	"sendgate/pkg/circuitbreaker"
	"sendgate/pkg/config"
)

type ProvisioningConfig struct {
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

type ProvidersConfig struct {
	SMTP2GO struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"smtp2go"`
	MailerSend struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"mailersend"`
}

type WebhookConfig struct {
	MailerSendSecret string        `yaml:"mailersend_secret"`
	DedupTTL         time.Duration `yaml:"dedup_ttl"`
}

type QueueConfig struct {
	Mode          string `yaml:"mode"`
	MemoryBuffer  int    `yaml:"memory_buffer"`
	OutboxRetries int    `yaml:"outbox_max_retries"`
}

type SMTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	DB           config.DBConfig       `yaml:"db"`
	MQ           config.MQConfig       `yaml:"mq"`
	Redis        config.RedisConfig    `yaml:"redis"`
	JWT          config.JWTConfig      `yaml:"jwt"`
	Server       config.ServerConfig   `yaml:"server"`
	Dispatch     dispatch.Config       `yaml:"dispatch"`
	Provisioning ProvisioningConfig    `yaml:"provisioning"`
	DNS          provider.DNSConfig    `yaml:"dns"`
	Providers    ProvidersConfig       `yaml:"providers"`
	Webhook      WebhookConfig         `yaml:"webhook"`
	Queue        QueueConfig           `yaml:"queue"`
	SMTP         SMTPConfig            `yaml:"smtp"`
	Breaker      circuitbreaker.Config `yaml:"breaker"`
	Log          LogConfig             `yaml:"log"`
}

// Load reads config/{base,$CONFIG_ENV}.yaml from $CONFIG_DIR, applies
// environment overrides and defaults, and validates the result.
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	dir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	overrideFromEnv(&cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideString(&cfg.Webhook.MailerSendSecret, "MAILERSEND_WEBHOOK_SIGNING_SECRET")
	config.OverrideString(&cfg.DNS.Domain, "DOMAIN_NAME")
	config.OverrideString(&cfg.DNS.APIKey, "DOMAIN_API_KEY")
	config.OverrideString(&cfg.DNS.SecretKey, "DOMAIN_API_SECRET_KEY")
	config.OverrideString(&cfg.Queue.Mode, "QUEUE_MODE")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Dispatch.MaxRetries <= 0 {
		c.Dispatch.MaxRetries = dispatch.DefaultMaxRetries
	}
	if c.Dispatch.RetryDelay <= 0 {
		c.Dispatch.RetryDelay = dispatch.DefaultRetryDelay
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 4
	}
	if c.Provisioning.HTTPTimeout <= 0 {
		c.Provisioning.HTTPTimeout = 10 * time.Second
	}
	def := provider.DefaultEndpoints()
	if c.Providers.SMTP2GO.BaseURL == "" {
		c.Providers.SMTP2GO.BaseURL = def.SMTP2GO
	}
	if c.Providers.MailerSend.BaseURL == "" {
		c.Providers.MailerSend.BaseURL = def.MailerSend
	}
	if c.Webhook.DedupTTL <= 0 {
		c.Webhook.DedupTTL = 24 * time.Hour
	}
	if c.Queue.Mode == "" {
		c.Queue.Mode = jobqueue.ModeMQ
	}
	if c.Queue.MemoryBuffer <= 0 {
		c.Queue.MemoryBuffer = 256
	}
	if c.Queue.OutboxRetries <= 0 {
		c.Queue.OutboxRetries = 5
	}
	if c.SMTP.Timeout <= 0 {
		c.SMTP.Timeout = 30 * time.Second
	}
}

// Validate rejects configurations the binaries cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Queue.Mode {
	case jobqueue.ModeMQ, jobqueue.ModeOutbox, jobqueue.ModeMemory:
	default:
		errs = append(errs, fmt.Errorf("queue.mode %q is not one of mq, outbox, memory", c.Queue.Mode))
	}
	if c.Queue.Mode != jobqueue.ModeMemory && c.MQ.URL == "" {
		errs = append(errs, errors.New("mq.url is required unless queue.mode is memory"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.Webhook.MailerSendSecret == "" {
		errs = append(errs, errors.New("webhook.mailersend_secret is required"))
	}
	return errors.Join(errs...)
}

// Endpoints returns the vendor API base URLs.
func (c *Config) Endpoints() provider.Endpoints {
	return provider.Endpoints{
		SMTP2GO:    c.Providers.SMTP2GO.BaseURL,
		MailerSend: c.Providers.MailerSend.BaseURL,
	}
}
