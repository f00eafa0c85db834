package authkit

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/halcyonlabs/authkit/internal/audit"
	"github.com/halcyonlabs/authkit/internal/outbox"
	"github.com/halcyonlabs/authkit/internal/rate"
	"github.com/halcyonlabs/authkit/jwt"
	"github.com/halcyonlabs/authkit/password"
	"github.com/halcyonlabs/authkit/session"
	"github.com/halcyonlabs/authkit/twofactor"
	"github.com/halcyonlabs/authkit/verification"
)

// Builder assembles an Engine. A builder is single-use: Build consumes
// it.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	directory Directory
	mailer    Mailer
	auditSink AuditSink

	built bool
}

// New starts a builder with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, verification tokens,
// and throttles.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory sets the host application's user and account store.
func (b *Builder) WithDirectory(dir Directory) *Builder {
	b.directory = dir
	return b
}

// WithMailer sets the transport for verification and reset email. The
// engine runs without one, but verification and reset flows then only
// record tokens without sending anything.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets the audit event destination and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithMetricsEnabled toggles the counter set.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and assembles the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		directory: b.directory,
		sessions:  session.NewStore(b.redis, cfg.Session.RedisPrefix),
		ledger:    verification.NewStore(b.redis, cfg.Session.RedisPrefix),
	}

	engine.limiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle: cfg.Security.EnableIPThrottle,
		MaxLoginAttempts: cfg.Security.MaxLoginAttempts,
		LoginCooldown:    cfg.Security.LoginCooldown,
		IssuanceLimit:    cfg.Verification.IssuanceLimit,
		IssuanceWindow:   cfg.Verification.IssuanceWindow,
	})

	engine.twoFactor = twofactor.NewMachine(
		twofactor.NewOTP(twofactor.OTPConfig{
			Issuer:    cfg.TwoFactor.Issuer,
			Period:    cfg.TwoFactor.Period,
			Digits:    cfg.TwoFactor.Digits,
			Skew:      cfg.TwoFactor.Skew,
			Algorithm: cfg.TwoFactor.Algorithm,
		}),
		twofactor.Config{
			MaxAttempts:       cfg.TwoFactor.MaxAttempts,
			LockoutDuration:   cfg.TwoFactor.LockoutDuration,
			RecoveryCodeCount: cfg.TwoFactor.RecoveryCodeCount,
		},
	)

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	engine.metrics = NewMetrics(cfg.Metrics)

	if b.mailer != nil {
		mailer := b.mailer
		engine.mail = outbox.New(outbox.Config{
			BufferSize:  cfg.Mail.BufferSize,
			SendTimeout: cfg.Mail.SendTimeout,
		}, func(ctx context.Context, msg outbox.Message) error {
			return mailer.Send(ctx, Email{To: msg.To, Subject: msg.Subject, Body: msg.Body})
		})
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwords = hasher

	manager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = manager

	b.built = true

	return engine, nil
}
