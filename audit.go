package authkit

import (
	"io"

	"github.com/halcyonlabs/authkit/internal/audit"
)

// AuditEvent is the event model handed to audit sinks.
type AuditEvent = audit.Event

// AuditSink receives engine audit events.
type AuditSink = audit.Sink

// NoOpAuditSink drops every event.
type NoOpAuditSink = audit.NoOpSink

// ChannelAuditSink hands events to a consumer over a buffered channel.
type ChannelAuditSink = audit.ChannelSink

// JSONAuditSink writes one JSON object per line to a writer.
type JSONAuditSink = audit.JSONWriterSink

func NewChannelAuditSink(buffer int) *ChannelAuditSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONAuditSink(w io.Writer) *JSONAuditSink {
	return audit.NewJSONWriterSink(w)
}

// Audit event types emitted by the engine.
const (
	AuditRegister             = "register"
	AuditLogin                = "login"
	AuditOAuthLogin           = "oauth_login"
	AuditTwoFactorChallenge   = "two_factor_challenge"
	AuditRefresh              = "refresh"
	AuditTokenReuse           = "token_reuse"
	AuditLogout               = "logout"
	AuditLogoutAll            = "logout_all"
	AuditSessionRevoked       = "session_revoked"
	AuditEmailVerifyRequested = "email_verify_requested"
	AuditEmailVerified        = "email_verified"
	AuditPasswordResetRequest = "password_reset_requested"
	AuditPasswordReset        = "password_reset"
	AuditTwoFactorEnabled     = "two_factor_enabled"
	AuditTwoFactorDisabled    = "two_factor_disabled"
	AuditRecoveryCodesRenewed = "recovery_codes_renewed"
	AuditAccountDisconnected  = "account_disconnected"
)
