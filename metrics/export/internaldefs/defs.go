// Package internaldefs holds the shared counter catalog used by the
// exporter packages so both render the same names and help strings.
package internaldefs

import (
	authkit "github.com/halcyonlabs/authkit"
)

// CounterDef maps one engine counter to its exported name.
type CounterDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authkit.MetricRegisterSuccess, Name: "authkit_register_success_total", Help: "Successful registrations."},
	{ID: authkit.MetricRegisterConflict, Name: "authkit_register_conflict_total", Help: "Registrations rejected as duplicate."},
	{ID: authkit.MetricLoginSuccess, Name: "authkit_login_success_total", Help: "Successful logins."},
	{ID: authkit.MetricLoginFailure, Name: "authkit_login_failure_total", Help: "Failed login attempts."},
	{ID: authkit.MetricLoginRateLimited, Name: "authkit_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: authkit.MetricOAuthLoginSuccess, Name: "authkit_oauth_login_success_total", Help: "Successful provider logins."},
	{ID: authkit.MetricRefreshSuccess, Name: "authkit_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authkit.MetricRefreshFailure, Name: "authkit_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: authkit.MetricTokenReuseDetected, Name: "authkit_token_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: authkit.MetricSessionCreated, Name: "authkit_session_created_total", Help: "Created sessions."},
	{ID: authkit.MetricSessionRevoked, Name: "authkit_session_revoked_total", Help: "Revoked sessions."},
	{ID: authkit.MetricLogout, Name: "authkit_logout_total", Help: "Single-session logouts."},
	{ID: authkit.MetricLogoutAll, Name: "authkit_logout_all_total", Help: "Logout-all operations."},
	{ID: authkit.MetricEmailVerificationRequest, Name: "authkit_email_verification_request_total", Help: "Verification emails issued."},
	{ID: authkit.MetricEmailVerificationSuccess, Name: "authkit_email_verification_success_total", Help: "Successful email verifications."},
	{ID: authkit.MetricEmailVerificationFailure, Name: "authkit_email_verification_failure_total", Help: "Failed email verification attempts."},
	{ID: authkit.MetricPasswordResetRequest, Name: "authkit_password_reset_request_total", Help: "Password reset requests."},
	{ID: authkit.MetricPasswordResetSuccess, Name: "authkit_password_reset_success_total", Help: "Successful password resets."},
	{ID: authkit.MetricPasswordResetFailure, Name: "authkit_password_reset_failure_total", Help: "Failed password reset attempts."},
	{ID: authkit.MetricIssuanceThrottled, Name: "authkit_issuance_throttled_total", Help: "Email issuance requests rejected by the window budget."},
	{ID: authkit.MetricTwoFactorRequired, Name: "authkit_two_factor_required_total", Help: "Logins requiring a second factor."},
	{ID: authkit.MetricTwoFactorSuccess, Name: "authkit_two_factor_success_total", Help: "Successful second-factor verifications."},
	{ID: authkit.MetricTwoFactorFailure, Name: "authkit_two_factor_failure_total", Help: "Failed second-factor verifications."},
	{ID: authkit.MetricTwoFactorLocked, Name: "authkit_two_factor_locked_total", Help: "Second-factor attempts rejected while locked."},
	{ID: authkit.MetricRecoveryCodeUsed, Name: "authkit_recovery_code_used_total", Help: "Redeemed recovery codes."},
	{ID: authkit.MetricRecoveryCodeRegenerated, Name: "authkit_recovery_code_regenerated_total", Help: "Recovery code set regenerations."},
	{ID: authkit.MetricAccountDisconnected, Name: "authkit_account_disconnected_total", Help: "Disconnected provider accounts."},
}
