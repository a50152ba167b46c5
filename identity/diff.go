package identity

// Change names an observable status transition between two versions of an
// identity.
type Change string

const (
	ChangeActivated       Change = "activated"
	ChangeDeactivated     Change = "deactivated"
	ChangeLocked          Change = "locked"
	ChangeUnlocked        Change = "unlocked"
	ChangeEmailVerified   Change = "email_verified"
	ChangePasswordChanged Change = "password_changed"
	ChangeExternalLinked  Change = "external_linked"
	ChangeSessionsRevoked Change = "sessions_revoked"
)

// Diff lists the status transitions from before to after, in a fixed order.
// Stores never emit events; the engine calls Diff after a successful write
// and decides what to publish.
func Diff(before, after *Identity) []Change {
	if before == nil || after == nil {
		return nil
	}
	var out []Change
	if !before.Active && after.Active {
		out = append(out, ChangeActivated)
	}
	if before.Active && !after.Active {
		out = append(out, ChangeDeactivated)
	}
	if after.LockUntil != nil && (before.LockUntil == nil || !before.LockUntil.Equal(*after.LockUntil)) {
		out = append(out, ChangeLocked)
	}
	if before.LockUntil != nil && after.LockUntil == nil {
		out = append(out, ChangeUnlocked)
	}
	if !before.EmailVerified && after.EmailVerified {
		out = append(out, ChangeEmailVerified)
	}
	if before.PasswordHash != "" && before.PasswordHash != after.PasswordHash {
		out = append(out, ChangePasswordChanged)
	}
	if before.ExternalID == "" && after.ExternalID != "" {
		out = append(out, ChangeExternalLinked)
	}
	if len(before.Sessions) > 0 && len(after.Sessions) == 0 {
		out = append(out, ChangeSessionsRevoked)
	}
	return out
}

// Has reports whether c is in changes.
func Has(changes []Change, c Change) bool {
	for _, x := range changes {
		if x == c {
			return true
		}
	}
	return false
}
