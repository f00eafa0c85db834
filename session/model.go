// Package session stores refresh sessions in Redis and implements the
// rotation protocol: every refresh atomically revokes the presented
// session and links it to its successor, so a replay of an old refresh
// token is detectable and the stolen chain can be cut.
package session

// Session is one refresh session. Rotation never deletes a row; it stamps
// RevokedAt and links ChildID to the successor so the record stays
// available for reuse detection and audit until its TTL expires.
type Session struct {
	ID       string
	UserID   string
	ParentID string
	ChildID  string

	IP        string
	UserAgent string

	RefreshHash [32]byte

	CreatedAt int64
	ExpiresAt int64
	RevokedAt int64
}

// Revoked reports whether the session has been rotated away or revoked.
func (s *Session) Revoked() bool {
	return s.RevokedAt != 0
}

// Active reports whether the session is usable at the given Unix time.
func (s *Session) Active(nowUnix int64) bool {
	return s.RevokedAt == 0 && s.ExpiresAt > nowUnix
}
