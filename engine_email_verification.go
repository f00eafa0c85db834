package authkit

import (
	"context"
	"errors"
	"time"

	"github.com/halcyonlabs/authkit/internal"
	"github.com/halcyonlabs/authkit/internal/rate"
	"github.com/halcyonlabs/authkit/verification"
)

// VerifyEmail redeems an email verification token and stamps the user's
// address as verified. Tokens are single use; unknown, expired, used, and
// wrong-purpose tokens all fail with ErrInvalidOrExpiredToken.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if e == nil || e.ledger == nil {
		return ErrEngineNotReady
	}

	now := time.Now()
	rec, err := e.ledger.Consume(ctx, internal.HashVerificationToken(token), verification.PurposeEmailVerify, now)
	if err != nil {
		if errors.Is(err, verification.ErrNotFound) {
			e.metrics.Inc(MetricEmailVerificationFailure)
			return ErrInvalidOrExpiredToken
		}
		return e.wrapStore(err)
	}

	if err := e.directory.UpdateUser(ctx, rec.UserID, UserPatch{EmailVerifiedAt: &now}); err != nil {
		return e.wrapStore(err)
	}

	e.metrics.Inc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEmailVerified,
		UserID:    rec.UserID,
		Success:   true,
	})

	return nil
}

// ResendVerification issues a fresh verification token for the address.
// The previous token, if any, stops working. The response does not reveal
// whether the address is registered: unknown and already-verified
// addresses acknowledge without sending anything.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if !validEmail(email) {
		return ErrValidationFailed
	}

	if err := e.limiter.AllowIssuance(ctx, issuanceKindVerify, email); err != nil {
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
	if user.Verified() {
		return nil
	}

	if err := e.issueVerification(ctx, user, verification.PurposeEmailVerify, time.Now()); err != nil {
		return err
	}

	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEmailVerifyRequested,
		UserID:    user.ID,
		Success:   true,
	})

	return nil
}
