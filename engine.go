package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halcyonlabs/authkit/internal"
	"github.com/halcyonlabs/authkit/internal/audit"
	"github.com/halcyonlabs/authkit/internal/outbox"
	"github.com/halcyonlabs/authkit/internal/rate"
	"github.com/halcyonlabs/authkit/jwt"
	"github.com/halcyonlabs/authkit/password"
	"github.com/halcyonlabs/authkit/session"
	"github.com/halcyonlabs/authkit/twofactor"
	"github.com/halcyonlabs/authkit/verification"
)

// Engine is the identity core. Construct it through [New]; the zero value
// is not usable.
type Engine struct {
	config    Config
	directory Directory
	sessions  *session.Store
	ledger    *verification.Store
	limiter   *rate.Limiter
	twoFactor *twofactor.Machine
	audit     *audit.Dispatcher
	metrics   *Metrics
	mail      *outbox.Outbox
	passwords *password.Hasher
	tokens    *jwt.Manager
}

// Close drains the audit dispatcher and the mail outbox. Safe to call
// more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	e.mail.Close()
}

// MetricsSnapshot exposes the counter set to exporter packages.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Ping reports Redis availability and round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessions.Ping(ctx)
}

// ValidateAccess checks the access token signature and claims, then
// confirms the referenced session is still live and the user not
// blocked. Access tokens are never trusted on their own; revocation must
// be observable immediately, not after natural token expiry.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (AccessIdentity, error) {
	if e == nil || e.tokens == nil {
		return AccessIdentity{}, ErrEngineNotReady
	}

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return AccessIdentity{}, ErrUnauthorized
	}

	sess, err := e.sessions.Get(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return AccessIdentity{}, ErrUnauthorized
		}
		return AccessIdentity{}, e.wrapStore(err)
	}
	if !sess.Active(time.Now().Unix()) || sess.UserID != claims.UID {
		return AccessIdentity{}, ErrUnauthorized
	}

	user, err := e.directory.GetUserByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccessIdentity{}, ErrUnauthorized
		}
		return AccessIdentity{}, e.wrapStore(err)
	}
	if user.Blocked {
		return AccessIdentity{}, ErrUserBlocked
	}

	return AccessIdentity{UserID: claims.UID, SessionID: claims.SID}, nil
}

// issueSession creates a session row plus its access/refresh pair. The
// refresh token is opaque: session ID and secret packed into one
// base64url string, with only the secret's hash stored server side.
func (e *Engine) issueSession(ctx context.Context, userID, parentID string, now time.Time) (*TokenPair, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	return e.issueSessionWithID(ctx, userID, parentID, sid.String(), now)
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// wrapStore maps backend failures to ErrStoreUnavailable while letting
// domain sentinels pass through untouched.
func (e *Engine) wrapStore(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrVersionConflict):
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
