package authkit

import (
	"context"
	"errors"
	"time"

	"github.com/halcyonlabs/authkit/internal/rate"
	"github.com/halcyonlabs/authkit/twofactor"
)

// LoginCredentials carries one login attempt. OTP and RecoveryCode are
// only consulted when the user has two-factor enabled; at most one of
// them should be set.
type LoginCredentials struct {
	Email        string
	Password     string
	OTP          string
	RecoveryCode string
}

// Login authenticates a credentials user.
//
// Blocked and unverified users are rejected before the password compare
// so their credential state never leaks. Unknown email, missing
// credentials account, and wrong password all fail with
// ErrInvalidCredentials uniformly. Users with two-factor enabled get a
// LoginResult with TwoFactorRequired set until a code is supplied.
func (e *Engine) Login(ctx context.Context, creds LoginCredentials) (LoginResult, error) {
	if e == nil || e.directory == nil {
		return LoginResult{}, ErrEngineNotReady
	}

	email := normalizeEmail(creds.Email)
	if !validEmail(email) || creds.Password == "" {
		return LoginResult{}, ErrValidationFailed
	}

	ip := clientIPFromContext(ctx)
	if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.Inc(MetricLoginRateLimited)
			return LoginResult{}, ErrTooManyRequests
		}
		return LoginResult{}, e.wrapStore(err)
	}

	user, err := e.directory.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, e.failLogin(ctx, email, ip, "")
		}
		return LoginResult{}, e.wrapStore(err)
	}

	if user.Blocked {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, UserID: user.ID, Error: "user blocked"})
		return LoginResult{}, ErrUserBlocked
	}
	if !user.Verified() {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, UserID: user.ID, Error: "email not verified"})
		return LoginResult{}, ErrEmailNotVerified
	}

	account, err := e.directory.CredentialsAccount(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, e.failLogin(ctx, email, ip, user.ID)
		}
		return LoginResult{}, e.wrapStore(err)
	}

	ok, err := e.passwords.Verify(creds.Password, account.PasswordHash)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, e.failLogin(ctx, email, ip, user.ID)
	}

	if rehash, _ := e.passwords.NeedsRehash(account.PasswordHash); rehash {
		if fresh, hashErr := e.passwords.Hash(creds.Password); hashErr == nil {
			// Best effort; login proceeds on the old hash either way.
			_ = e.directory.UpdatePasswordHash(ctx, account.ID, fresh)
		}
	}

	state, err := e.directory.GetTwoFactor(ctx, user.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return LoginResult{}, e.wrapStore(err)
	}
	if state.Enabled {
		if creds.OTP == "" && creds.RecoveryCode == "" {
			e.metrics.Inc(MetricTwoFactorRequired)
			e.emitAudit(ctx, AuditEvent{EventType: AuditTwoFactorChallenge, UserID: user.ID, Success: true})
			return LoginResult{UserID: user.ID, TwoFactorRequired: true}, nil
		}
		if err := e.verifySecondFactor(ctx, user.ID, creds.OTP, creds.RecoveryCode); err != nil {
			e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, UserID: user.ID, Error: err.Error()})
			return LoginResult{}, err
		}
	}

	now := time.Now()
	tokens, err := e.issueSession(ctx, user.ID, "", now)
	if err != nil {
		return LoginResult{}, err
	}

	// The login already succeeded; a stale failure counter only shortens
	// the budget for future attempts, so the reset is best effort.
	_ = e.limiter.ResetLogin(ctx, email, ip)

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogin,
		UserID:    user.ID,
		SessionID: tokens.SessionID,
		Success:   true,
	})

	return LoginResult{UserID: user.ID, Tokens: tokens}, nil
}

// OAuthLogin completes an external provider exchange. The provider is
// treated as having verified the email, so a user created here starts
// verified. Repeated callbacks are idempotent: existing users and
// account links are reused, never overwritten.
func (e *Engine) OAuthLogin(ctx context.Context, identity ProviderIdentity) (LoginResult, error) {
	if e == nil || e.directory == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	if identity.Provider == "" || identity.Provider == ProviderCredentials ||
		identity.ProviderAccountID == "" || !validEmail(normalizeEmail(identity.Email)) {
		return LoginResult{}, ErrValidationFailed
	}

	email := normalizeEmail(identity.Email)
	now := time.Now()

	user, err := e.findOrCreateOAuthUser(ctx, identity, email, now)
	if err != nil {
		return LoginResult{}, err
	}
	if user.Blocked {
		return LoginResult{}, ErrUserBlocked
	}

	tokens, err := e.issueSession(ctx, user.ID, "", now)
	if err != nil {
		return LoginResult{}, err
	}

	e.metrics.Inc(MetricOAuthLoginSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditOAuthLogin,
		UserID:    user.ID,
		SessionID: tokens.SessionID,
		Success:   true,
		Metadata:  map[string]string{"provider": identity.Provider},
	})

	return LoginResult{UserID: user.ID, Tokens: tokens}, nil
}

func (e *Engine) findOrCreateOAuthUser(ctx context.Context, identity ProviderIdentity, email string, now time.Time) (User, error) {
	// Fast path: the provider link already exists.
	if account, err := e.directory.FindAccountByProvider(ctx, identity.Provider, identity.ProviderAccountID); err == nil {
		user, err := e.directory.GetUserByID(ctx, account.UserID)
		if err != nil {
			return User{}, e.wrapStore(err)
		}
		return user, nil
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, e.wrapStore(err)
	}

	user, err := e.directory.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		// Known user, first login through this provider: attach the link.
		if _, err := e.directory.CreateAccount(ctx, user.ID, NewAccount{
			Provider:          identity.Provider,
			ProviderAccountID: identity.ProviderAccountID,
		}); err != nil && !errors.Is(err, ErrConflict) {
			return User{}, e.wrapStore(err)
		}
		return user, nil
	case errors.Is(err, ErrNotFound):
		name := identity.Name
		if name == "" {
			name = email
		}
		username, err := e.deriveUsername(ctx, name)
		if err != nil {
			return User{}, err
		}
		user, err := e.directory.CreateUserWithAccount(ctx,
			NewUser{Email: email, Username: username, Name: name, Role: "user"},
			NewAccount{Provider: identity.Provider, ProviderAccountID: identity.ProviderAccountID},
		)
		if err != nil {
			return User{}, e.wrapStore(err)
		}
		// Provider-verified address; stamp it immediately.
		if err := e.directory.UpdateUser(ctx, user.ID, UserPatch{EmailVerifiedAt: &now}); err != nil {
			return User{}, e.wrapStore(err)
		}
		user.EmailVerifiedAt = now
		return user, nil
	default:
		return User{}, e.wrapStore(err)
	}
}

// verifySecondFactor applies the supplied OTP or recovery code through
// the two-factor state machine. State mutations (failed attempt counts,
// lockout, consumed codes) persist even when verification fails.
func (e *Engine) verifySecondFactor(ctx context.Context, userID, otp, recoveryCode string) error {
	now := time.Now()

	err := e.updateTwoFactor(ctx, userID, func(st *twofactor.State) error {
		if recoveryCode != "" {
			return e.twoFactor.ConsumeRecoveryCode(st, recoveryCode, now)
		}
		return e.twoFactor.VerifyOTP(st, otp, now)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrTwoFactorLocked):
			e.metrics.Inc(MetricTwoFactorLocked)
		case errors.Is(err, ErrInvalidOtp), errors.Is(err, ErrInvalidRecoveryCode):
			e.metrics.Inc(MetricTwoFactorFailure)
		}
		return err
	}

	if recoveryCode != "" {
		e.metrics.Inc(MetricRecoveryCodeUsed)
	}
	e.metrics.Inc(MetricTwoFactorSuccess)
	return nil
}

func (e *Engine) failLogin(ctx context.Context, email, ip, userID string) error {
	e.metrics.Inc(MetricLoginFailure)
	if err := e.limiter.RecordLoginFailure(ctx, email, ip); err != nil && errors.Is(err, rate.ErrRateLimited) {
		e.metrics.Inc(MetricLoginRateLimited)
	}
	e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, UserID: userID, Error: "invalid credentials"})
	return ErrInvalidCredentials
}
