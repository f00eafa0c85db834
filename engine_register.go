package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/authkit/internal"
	"github.com/halcyonlabs/authkit/internal/outbox"
	"github.com/halcyonlabs/authkit/verification"
)

const (
	minPasswordLength = 8
	maxUsernameTries  = 5

	issuanceKindVerify = "verify"
	issuanceKindReset  = "reset"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\n")
}

// Register creates a user with a credentials account and issues the
// email verification token. The user and account rows commit atomically
// in the Directory; a ledger failure afterwards deletes the user again
// so no partially registered identity survives. The verification email
// itself is fire-and-forget.
func (e *Engine) Register(ctx context.Context, name, email, plainPassword string) (User, error) {
	if e == nil || e.directory == nil {
		return User{}, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if name == "" || !validEmail(email) {
		return User{}, ErrValidationFailed
	}
	if len(plainPassword) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password too short", ErrValidationFailed)
	}

	// Cheap pre-check outside the store transaction. A concurrent
	// duplicate can still slip past it; the Directory's uniqueness
	// constraint turns that into ErrConflict at commit.
	if _, err := e.directory.GetUserByEmail(ctx, email); err == nil {
		e.metrics.Inc(MetricRegisterConflict)
		return User{}, ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, e.wrapStore(err)
	}

	hash, err := e.passwords.Hash(plainPassword)
	if err != nil {
		return User{}, err
	}

	username, err := e.deriveUsername(ctx, name)
	if err != nil {
		return User{}, err
	}

	user, err := e.directory.CreateUserWithAccount(ctx,
		NewUser{Email: email, Username: username, Name: name, Role: "user"},
		NewAccount{Provider: ProviderCredentials, PasswordHash: hash},
	)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			e.metrics.Inc(MetricRegisterConflict)
			return User{}, ErrConflict
		}
		return User{}, e.wrapStore(err)
	}

	if err := e.issueVerification(ctx, user, verification.PurposeEmailVerify, time.Now()); err != nil {
		// Compensate: the registration must be all or nothing.
		if delErr := e.directory.DeleteUser(ctx, user.ID); delErr != nil {
			return User{}, e.wrapStore(delErr)
		}
		return User{}, err
	}

	e.metrics.Inc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRegister,
		UserID:    user.ID,
		Success:   true,
	})

	return user, nil
}

func (e *Engine) deriveUsername(ctx context.Context, name string) (string, error) {
	base := internal.DeriveUsernameBase(name)

	taken, err := e.directory.UsernameTaken(ctx, base)
	if err != nil {
		return "", e.wrapStore(err)
	}
	if !taken {
		return base, nil
	}

	for i := 0; i < maxUsernameTries; i++ {
		candidate, err := internal.UsernameWithSuffix(base)
		if err != nil {
			return "", err
		}
		taken, err := e.directory.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", e.wrapStore(err)
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: could not derive a free username", ErrConflict)
}

// issueVerification writes a ledger entry for the purpose and queues the
// matching email. Registration calls it without consulting the issuance
// throttle; resend paths check the throttle first.
func (e *Engine) issueVerification(ctx context.Context, user User, purpose verification.Purpose, now time.Time) error {
	token, tokenHash, err := internal.NewVerificationToken()
	if err != nil {
		return err
	}

	rec := &verification.Record{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Identifier: user.Email,
		Purpose:    purpose,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(e.config.Verification.TokenTTL).Unix(),
	}
	if err := e.ledger.Issue(ctx, rec, tokenHash, e.config.Verification.TokenTTL); err != nil {
		return e.wrapStore(err)
	}

	e.queueVerificationMail(user, purpose, token)
	return nil
}

func (e *Engine) queueVerificationMail(user User, purpose verification.Purpose, token string) {
	var msg outbox.Message
	switch purpose {
	case verification.PurposeEmailVerify:
		e.metrics.Inc(MetricEmailVerificationRequest)
		msg = outbox.Message{
			To:      user.Email,
			Subject: "Verify your email address",
			Body:    mailBody("Confirm your email address to activate your account.", e.config.Mail.VerifyURLTemplate, token),
		}
	case verification.PurposePasswordReset:
		e.metrics.Inc(MetricPasswordResetRequest)
		msg = outbox.Message{
			To:      user.Email,
			Subject: "Reset your password",
			Body:    mailBody("A password reset was requested for your account. Ignore this message if that was not you.", e.config.Mail.ResetURLTemplate, token),
		}
	default:
		return
	}

	e.mail.Enqueue(msg)
}

// mailBody renders the plain message plus the action link. The template
// receives the raw token through %s; without a template the token is
// appended on its own line so the host can still extract it.
func mailBody(text, urlTemplate, token string) string {
	if urlTemplate == "" {
		return text + "\n\n" + token + "\n"
	}
	return text + "\n\n" + fmt.Sprintf(urlTemplate, token) + "\n"
}
