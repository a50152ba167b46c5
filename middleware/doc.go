// Package middleware exposes HTTP middleware that guards routes with
// authcore access tokens.
//
// # Guards
//
//   - [Guard] validates the bearer token through Engine.ValidateAccess and
//     stores the result in the request context.
//   - [RequireRole] rejects authenticated requests whose role is not listed.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens or touch the identity store itself; every decision comes from
// ValidateAccess.
package middleware
