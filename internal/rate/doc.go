// Package rate provides the Redis fixed-window counter that request throttles
// are built on.
//
// # Window semantics
//
// INCR, then EXPIRE on the first hit of a window. A key's count resets when
// its TTL lapses.
//
// # What this package must NOT do
//
//   - Implement per-operation policy (that lives in internal/limiters).
package rate
