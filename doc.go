// Package authcore is an authentication and session engine: email and
// password login with lockout, JWT access and refresh tokens, a bounded
// per-identity session list, single-use reset and verification tokens, and
// login through a signed external identity proof.
//
// Engine methods are safe to call from multiple goroutines once the engine
// has been created with [Builder.Build].
//
// # State
//
// All per-identity state (lockout counters, sessions, pending single-use
// tokens, external binding) lives on the [identity.Identity] record and is
// written through optimistic-concurrency updates, so the engine itself is
// stateless apart from metrics and the audit dispatcher. Any
// [identity.Store] can back it: memstore for tests, redisstore or pgstore in
// production.
//
// # Tokens
//
// Access and refresh tokens are signed with independent keys. A refresh
// token is honoured only while its SHA-256 is present in the identity's
// session list, which is how logout, lockout, password changes and account
// disablement revoke tokens that are still cryptographically valid.
// Reset and verification tokens are opaque, stored hashed and cleared on
// use, on expiry and on failed delivery.
//
// # Errors
//
// Operations return the sentinels in errors.go, possibly wrapped in an
// [AuthError] carrying attempts remaining or lock time. [PublicMessage]
// maps any error to text safe for an end user; backend failures surface as
// [ErrUnavailable] with detail only in the log.
//
// # Sub-packages
//
//   - httpapi, middleware: chi router and net/http guards over the engine
//   - identity: record type, store interface and backends
//   - jwt, session, singleuse, lockout, password, external: building blocks
//   - metrics/export: Prometheus and OpenTelemetry bridges
package authcore
