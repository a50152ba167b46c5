// Package limiters throttles requests that trigger outbound mail (password
// reset, email verification, registration).
//
// [RequestLimiter] counts per identifier and per client IP in fixed Redis
// windows built on internal/rate. All methods are nil-safe: a nil limiter
// allows everything, which is how the engine runs without Redis.
//
// # What this package must NOT do
//
//   - Decide consequences. The engine chooses whether a throttled request
//     fails loudly or is answered uniformly.
package limiters
