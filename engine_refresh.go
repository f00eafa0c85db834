package authkit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/halcyonlabs/authkit/internal"
	"github.com/halcyonlabs/authkit/session"
)

// Refresh rotates the session behind the presented refresh token.
//
// Rotation is single-use. The store compares the token's secret hash and
// revokes the old row in one atomic step, so a concurrent double-rotate
// has exactly one winner. A token that was already rotated away is
// treated as stolen: the descendant session chain rooted at it is
// revoked and the call fails with ErrTokenReuseDetected. That response
// is terminal and never retried.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, ErrUnauthorized
	}

	nextID, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	old, chainHead, err := e.sessions.Rotate(
		ctx, sessionID, internal.HashRefreshSecret(secret), nextID.String(), now,
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
			e.metrics.Inc(MetricRefreshFailure)
			return nil, ErrSessionExpired
		case errors.Is(err, session.ErrTokenReused):
			return nil, e.handleReuse(ctx, sessionID, chainHead, now)
		case errors.Is(err, session.ErrCorrupt):
			e.metrics.Inc(MetricRefreshFailure)
			return nil, ErrSessionExpired
		default:
			return nil, e.wrapStore(err)
		}
	}

	tokens, err := e.issueSessionWithID(ctx, old.UserID, sessionID, nextID.String(), now)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRefresh,
		UserID:    old.UserID,
		SessionID: tokens.SessionID,
		Success:   true,
		Metadata:  map[string]string{"parent_session": sessionID},
	})

	return tokens, nil
}

// handleReuse cuts off every session descending from the reused one. The
// store has already revoked the presented row when the mismatch happened
// on a live session; chainHead points at its successor otherwise.
func (e *Engine) handleReuse(ctx context.Context, sessionID, chainHead string, now time.Time) error {
	revoked := 0
	if chainHead != "" {
		n, err := e.sessions.RevokeChain(ctx, chainHead, now)
		if err != nil {
			return e.wrapStore(err)
		}
		revoked = n
	}

	e.metrics.Inc(MetricTokenReuseDetected)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditTokenReuse,
		SessionID: sessionID,
		Error:     "refresh token reuse detected",
		Metadata:  map[string]string{"descendants_revoked": strconv.Itoa(revoked)},
	})

	return ErrTokenReuseDetected
}

// issueSessionWithID is issueSession with a pre-generated session ID,
// needed because rotation links the successor ID before the successor
// row exists.
func (e *Engine) issueSessionWithID(ctx context.Context, userID, parentID, sessionID string, now time.Time) (*TokenPair, error) {
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(e.config.Session.RefreshTTL)
	sess := &session.Session{
		ID:          sessionID,
		UserID:      userID,
		ParentID:    parentID,
		IP:          clampMeta(clientIPFromContext(ctx)),
		UserAgent:   clampMeta(userAgentFromContext(ctx)),
		RefreshHash: internal.HashRefreshSecret(secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   expiresAt.Unix(),
	}
	if err := e.sessions.Save(ctx, sess, e.config.Session.RefreshTTL); err != nil {
		return nil, e.wrapStore(err)
	}

	accessToken, err := e.tokens.CreateAccess(userID, sessionID, now)
	if err != nil {
		return nil, err
	}
	refreshToken, err := internal.EncodeRefreshToken(sessionID, secret)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricSessionCreated)

	return &TokenPair{
		SessionID:        sessionID,
		AccessToken:      accessToken,
		AccessExpiresAt:  now.Add(e.tokens.AccessTTL()),
		RefreshToken:     refreshToken,
		RefreshExpiresAt: expiresAt,
	}, nil
}

// clampMeta cuts request metadata down to what the session record can
// hold. Browsers put no ceiling on User-Agent, and the header is
// display-only here, so truncation beats rejecting the login.
func clampMeta(s string) string {
	if len(s) > session.MaxFieldLen {
		return s[:session.MaxFieldLen]
	}
	return s
}

// Logout revokes the caller's own session. Idempotent: a session that is
// already gone or revoked is a successful logout.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	sess, err := e.sessions.Revoke(ctx, sessionID, time.Now())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return e.wrapStore(err)
	}

	e.metrics.Inc(MetricLogout)
	e.metrics.Inc(MetricSessionRevoked)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogout,
		UserID:    sess.UserID,
		SessionID: sessionID,
		Success:   true,
	})

	return nil
}
