// Package session manages the bounded, creation-ordered list of refresh
// grants kept on an identity.
//
// # Invariants
//
//   - At most MaxSessions entries; adding beyond the cap drops the oldest.
//   - Entries are matched by the SHA-256 of the refresh token, never the
//     token itself.
//   - Removal is idempotent.
//
// The list functions ([Add], [Validate], [Revoke], [RevokeAll]) are pure and
// operate on an identity the caller holds. [Manager] persists them through
// identity.Mutate so concurrent writers are resolved by the record version.
//
// # What this package must NOT do
//
//   - Verify token signatures. A refresh needs both a valid signature
//     (package jwt) and list membership (this package).
package session
