package authkit

import (
	"errors"
	"strings"
	"time"
)

// Config is the full engine configuration. Configure it before Build;
// the engine clones it and never reads the caller's copy afterwards.
type Config struct {
	JWT          JWTConfig
	Session      SessionConfig
	Password     PasswordConfig
	Verification VerificationConfig
	TwoFactor    TwoFactorConfig
	Security     SecurityConfig
	Mail         MailConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

// JWTConfig configures access token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// SessionConfig configures the Redis session store.
type SessionConfig struct {
	RedisPrefix string
	RefreshTTL  time.Duration
}

// PasswordConfig configures Argon2id hashing.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// VerificationConfig configures email verification and password reset
// tokens.
type VerificationConfig struct {
	TokenTTL time.Duration

	// IssuanceLimit emails per IssuanceWindow for one address, applied
	// separately to verification and reset mail.
	IssuanceLimit  int
	IssuanceWindow time.Duration
}

// TwoFactorConfig configures the TOTP second factor.
type TwoFactorConfig struct {
	Issuer            string
	Digits            int
	Period            int
	Algorithm         string
	Skew              int
	MaxAttempts       int
	LockoutDuration   time.Duration
	RecoveryCodeCount int
}

// SecurityConfig configures the login throttle.
type SecurityConfig struct {
	MaxLoginAttempts int
	LoginCooldown    time.Duration
	EnableIPThrottle bool
}

// MailConfig configures outbound email. URL templates receive the raw
// token via %s.
type MailConfig struct {
	VerifyURLTemplate string
	ResetURLTemplate  string
	BufferSize        int
	SendTimeout       time.Duration
}

// AuditConfig configures the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures the counter set.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the configuration New starts from. Adjust the
// fields you need and pass the result to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "ak",
			RefreshTTL:  30 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Verification: VerificationConfig{
			TokenTTL:       15 * time.Minute,
			IssuanceLimit:  2,
			IssuanceWindow: 3 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:            "",
			Digits:            6,
			Period:            30,
			Algorithm:         "SHA1",
			Skew:              1,
			MaxAttempts:       5,
			LockoutDuration:   10 * time.Minute,
			RecoveryCodeCount: 8,
		},
		Security: SecurityConfig{
			MaxLoginAttempts: 5,
			LoginCooldown:    15 * time.Minute,
			EnableIPThrottle: false,
		},
		Mail: MailConfig{
			BufferSize:  64,
			SendTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot run safely with.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 requires PrivateKey >= 32 bytes")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix is required")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("Session RefreshTTL must exceed JWT AccessTTL")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Verification
	if c.Verification.TokenTTL <= 0 {
		return errors.New("Verification TokenTTL must be > 0")
	}
	if c.Verification.IssuanceLimit <= 0 {
		return errors.New("Verification IssuanceLimit must be > 0")
	}
	if c.Verification.IssuanceWindow <= 0 {
		return errors.New("Verification IssuanceWindow must be > 0")
	}

	// Two-factor
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period < 15 {
		return errors.New("TwoFactor Period must be >= 15 seconds")
	}
	if c.TwoFactor.Skew < 0 {
		return errors.New("TwoFactor Skew must be >= 0")
	}
	if c.TwoFactor.MaxAttempts <= 0 {
		return errors.New("TwoFactor MaxAttempts must be > 0")
	}
	if c.TwoFactor.LockoutDuration <= 0 {
		return errors.New("TwoFactor LockoutDuration must be > 0")
	}
	if c.TwoFactor.RecoveryCodeCount < 4 {
		return errors.New("TwoFactor RecoveryCodeCount must be >= 4")
	}
	switch strings.ToUpper(c.TwoFactor.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// empty is treated as SHA1
	default:
		return errors.New("TwoFactor Algorithm must be SHA1, SHA256, or SHA512")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("Security MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginCooldown <= 0 {
		return errors.New("Security LoginCooldown must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
