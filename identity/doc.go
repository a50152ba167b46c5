// Package identity defines the identity record, its sessions and single-use
// tokens, and the Store contract backends implement.
//
// # Architecture boundaries
//
// Backends live in sub-packages (memstore, redisstore, pgstore). The
// [Adapter] normalizes lookup keys and rejects records that break identity
// invariants; everything else (lockout, session caps, token expiry) belongs
// to the packages that own those rules.
//
// # What this package must NOT do
//
//   - Make authentication decisions.
//   - Emit events from a write. Callers compare snapshots with [Diff].
package identity
