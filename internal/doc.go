// Package internal holds helpers private to authcore: opaque token
// generation and hashing.
//
// # Sub-packages
//
//   - appconfig: process configuration (viper, .env)
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - limiters: Redis-backed request throttles
//   - logging: zap construction and PII masking
//   - rate: fixed-window counters on Redis
//   - security: configuration posture reports
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
package internal
