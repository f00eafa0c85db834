package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halcyonlabs/authkit/internal"
	"github.com/halcyonlabs/authkit/internal/rate"
	"github.com/halcyonlabs/authkit/verification"
)

// ForgotPassword issues a password reset token for the address. Like
// ResendVerification, the response never reveals whether the address is
// registered; unknown addresses acknowledge silently.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if !validEmail(email) {
		return ErrValidationFailed
	}

	if err := e.limiter.AllowIssuance(ctx, issuanceKindReset, email); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.Inc(MetricIssuanceThrottled)
			return ErrTooManyRequests
		}
		return e.wrapStore(err)
	}

	user, err := e.directory.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return e.wrapStore(err)
	}

	if err := e.issueVerification(ctx, user, verification.PurposePasswordReset, time.Now()); err != nil {
		return err
	}

	e.emitAudit(ctx, AuditEvent{
		EventType: AuditPasswordResetRequest,
		UserID:    user.ID,
		Success:   true,
	})

	return nil
}

// ResetPassword redeems a reset token and installs the new password. Every
// session of the user is revoked afterwards, whoever held them. A user
// without a credentials account (OAuth only) gets one created here, which
// makes the reset flow double as "add a password to my account".
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil || e.ledger == nil {
		return ErrEngineNotReady
	}

	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password too short", ErrValidationFailed)
	}

	now := time.Now()
	rec, err := e.ledger.Consume(ctx, internal.HashVerificationToken(token), verification.PurposePasswordReset, now)
	if err != nil {
		if errors.Is(err, verification.ErrNotFound) {
			e.metrics.Inc(MetricPasswordResetFailure)
			return ErrInvalidOrExpiredToken
		}
		return e.wrapStore(err)
	}

	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return err
	}

	account, err := e.directory.CredentialsAccount(ctx, rec.UserID)
	switch {
	case err == nil:
		if err := e.directory.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
			return e.wrapStore(err)
		}
	case errors.Is(err, ErrNotFound):
		if _, err := e.directory.CreateAccount(ctx, rec.UserID, NewAccount{
			Provider:     ProviderCredentials,
			PasswordHash: hash,
		}); err != nil {
			return e.wrapStore(err)
		}
	default:
		return e.wrapStore(err)
	}

	// The old password may be compromised; nothing derived from it stays
	// valid.
	if err := e.sessions.RevokeAllForUser(ctx, rec.UserID, now); err != nil {
		return e.wrapStore(err)
	}

	// A locked-out user resets precisely because of failed attempts.
	_ = e.limiter.ResetLogin(ctx, rec.Identifier, "")

	e.metrics.Inc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditPasswordReset,
		UserID:    rec.UserID,
		Success:   true,
	})

	return nil
}
