package authkit

import (
	"context"
	"errors"
	"time"

	"github.com/halcyonlabs/authkit/session"
)

// ListSessions returns the user's sessions, newest first, including
// revoked rows that have not yet aged out. currentSessionID marks the
// caller's own session in the result; pass "" when unknown.
func (e *Engine) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	rows, err := e.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, e.wrapStore(err)
	}

	infos := make([]SessionInfo, 0, len(rows))
	for _, row := range rows {
		info := SessionInfo{
			SessionID:       row.ID,
			UserID:          row.UserID,
			ParentSessionID: row.ParentID,
			IP:              row.IP,
			UserAgent:       row.UserAgent,
			CreatedAt:       time.Unix(row.CreatedAt, 0),
			ExpiresAt:       time.Unix(row.ExpiresAt, 0),
			Current:         row.ID == currentSessionID,
		}
		if row.RevokedAt != 0 {
			info.RevokedAt = time.Unix(row.RevokedAt, 0)
		}
		infos = append(infos, info)
	}

	return infos, nil
}

// RevokeSession revokes one session owned by userID. A session that does
// not exist or belongs to someone else fails with ErrNotFound; ownership
// violations are indistinguishable from absence on purpose.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrNotFound
		}
		return e.wrapStore(err)
	}
	if sess.UserID != userID {
		return ErrNotFound
	}

	if _, err := e.sessions.Revoke(ctx, sessionID, time.Now()); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrNotFound
		}
		return e.wrapStore(err)
	}

	e.metrics.Inc(MetricSessionRevoked)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditSessionRevoked,
		UserID:    userID,
		SessionID: sessionID,
		Success:   true,
	})

	return nil
}

// RevokeAllSessions revokes every session of the user. Idempotent:
// already revoked and expired sessions are skipped silently.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	if err := e.sessions.RevokeAllForUser(ctx, userID, time.Now()); err != nil {
		return e.wrapStore(err)
	}

	e.metrics.Inc(MetricLogoutAll)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogoutAll,
		UserID:    userID,
		Success:   true,
	})

	return nil
}
