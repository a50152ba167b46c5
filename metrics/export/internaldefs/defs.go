package internaldefs

import (
	"github.com/deskflow/authcore"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine latency histogram to its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// AuditDroppedName is exported alongside the engine counters.
const AuditDroppedName = "authcore_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Audit events dropped due to dispatcher backpressure."

var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful password logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Password logins rejected for bad credentials."},
	{ID: authcore.MetricLoginLockedOut, Name: "authcore_login_locked_out_total", Help: "Logins rejected because the account was locked."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Accounts moved into the locked state."},
	{ID: authcore.MetricLoginInactive, Name: "authcore_login_inactive_total", Help: "Logins rejected because the account is inactive."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Access tokens minted from a refresh token."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Refresh attempts that failed."},
	{ID: authcore.MetricRefreshRevoked, Name: "authcore_refresh_revoked_total", Help: "Refresh attempts with a revoked token."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Sessions created."},
	{ID: authcore.MetricSessionEvicted, Name: "authcore_session_evicted_total", Help: "Sessions evicted by the per-identity cap."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetFailure, Name: "authcore_password_reset_failure_total", Help: "Rejected password reset tokens."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Completed password changes."},
	{ID: authcore.MetricPasswordChangeFailure, Name: "authcore_password_change_failure_total", Help: "Password changes rejected for a wrong current password."},
	{ID: authcore.MetricPasswordChangeReuseRejected, Name: "authcore_password_change_reuse_rejected_total", Help: "Password changes rejected for reusing the current password."},
	{ID: authcore.MetricPasswordRehash, Name: "authcore_password_rehash_total", Help: "Stored digests upgraded on login."},
	{ID: authcore.MetricEmailVerificationRequest, Name: "authcore_email_verification_request_total", Help: "Email verification requests."},
	{ID: authcore.MetricEmailVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Completed email verifications."},
	{ID: authcore.MetricEmailVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Rejected email verification tokens."},
	{ID: authcore.MetricExternalLoginSuccess, Name: "authcore_external_login_success_total", Help: "Successful external identity logins."},
	{ID: authcore.MetricExternalLoginFailure, Name: "authcore_external_login_failure_total", Help: "Rejected external identity logins."},
	{ID: authcore.MetricExternalProvisioned, Name: "authcore_external_provisioned_total", Help: "Identities provisioned from an external login."},
	{ID: authcore.MetricAccountCreated, Name: "authcore_account_created_total", Help: "Registered identities."},
	{ID: authcore.MetricAccountCreationDuplicate, Name: "authcore_account_creation_duplicate_total", Help: "Registrations rejected as duplicates."},
	{ID: authcore.MetricAccountDisabled, Name: "authcore_account_disabled_total", Help: "Accounts disabled."},
	{ID: authcore.MetricAccountEnabled, Name: "authcore_account_enabled_total", Help: "Accounts enabled."},
	{ID: authcore.MetricDeliveryFailure, Name: "authcore_delivery_failure_total", Help: "Notifications the delivery collaborator failed to send."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Requests denied by a throttle."},
	{ID: authcore.MetricStoreConflict, Name: "authcore_store_conflict_total", Help: "Optimistic-concurrency conflicts on identity writes."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Password login latency."},
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency."},
}

// UpperBounds are the finite histogram bucket bounds in seconds. The eighth
// engine bucket is +Inf.
var UpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
