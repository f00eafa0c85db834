package authkit

import "errors"

var (
	// ErrValidationFailed is returned when request input fails structural
	// validation before any backend work happens.
	ErrValidationFailed = errors.New("validation failed")
	// ErrConflict is returned when a uniqueness constraint rejects the
	// operation (duplicate email, username, or provider link).
	ErrConflict = errors.New("resource already exists")
	// ErrInvalidCredentials is the uniform failure for login attempts.
	// Unknown identifier, missing credentials account, and wrong password
	// all map here so callers cannot tell registered emails apart from
	// unregistered ones. Blocked and unverified accounts fail distinctly
	// with ErrUserBlocked and ErrEmailNotVerified instead.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned when an access token is missing, malformed,
	// or no longer backed by a live session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionExpired is returned when a refresh token points at a session
	// that no longer exists or has passed its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrTokenReuseDetected is returned when a refresh token that was already
	// rotated is presented again. The whole descendant session chain is
	// revoked before this error is returned.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrUserBlocked is returned when the target user is administratively
	// blocked. Checked before the credential compare on login.
	ErrUserBlocked = errors.New("user blocked")
	// ErrEmailNotVerified is returned by operations that require a verified
	// address, including login. Checked before the credential compare.
	ErrEmailNotVerified = errors.New("email not verified")

	// ErrTwoFactorNotEnabled is an exported guard for two-factor operations
	// on users without an active second factor.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrTwoFactorAlreadyEnabled rejects setup for users that already have an
	// active second factor.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrSetupNotInitiated rejects enable attempts without a pending setup.
	ErrSetupNotInitiated = errors.New("two-factor setup not initiated")
	// ErrTwoFactorLocked is returned while the failed-attempt lockout is
	// active. The lock is checked before any code verification.
	ErrTwoFactorLocked = errors.New("two-factor temporarily locked")
	// ErrInvalidOtp is returned for a wrong one-time code.
	ErrInvalidOtp = errors.New("invalid one-time code")
	// ErrInvalidRecoveryCode is returned for an unknown or already-consumed
	// recovery code.
	ErrInvalidRecoveryCode = errors.New("invalid recovery code")

	// ErrInvalidOrExpiredToken covers unknown, expired, and already-used
	// verification tokens uniformly.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrTooManyRequests is returned when a rate or issuance limit trips.
	ErrTooManyRequests = errors.New("too many requests")
	// ErrLastLoginMethod rejects disconnecting a user's only remaining
	// login method.
	ErrLastLoginMethod = errors.New("cannot remove last login method")
	// ErrNotFound is returned when the addressed resource does not exist or
	// is not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict must be returned by Directory.UpdateTwoFactor when
	// the stored state version differs from the expected one. The engine
	// retries the transition on a fresh read.
	ErrVersionConflict = errors.New("state version conflict")

	// ErrEngineNotReady signals a method call on a partially constructed
	// Engine. Only reachable when the Builder contract is bypassed.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrStoreUnavailable wraps backend failures from Redis or the Directory.
	ErrStoreUnavailable = errors.New("backend unavailable")
)
